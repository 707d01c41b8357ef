package bot

import (
	"context"
	"errors"
	"strings"

	"pharmacy-service/internal/flows"
	"pharmacy-service/internal/models"
	"pharmacy-service/internal/policy"
	"pharmacy-service/internal/service"
	"pharmacy-service/internal/session"
	"pharmacy-service/internal/util"
	"pharmacy-service/internal/workflow"

	"go.uber.org/zap"
)

const (
	callbackWorkflow = "wf"
	callbackCancel   = "cancel"
)

// Config holds presentation settings
type Config struct {
	Currency         string
	MaxOrderQuantity int
	ListLimit        int
}

// Deps are the services the dispatcher routes to
type Deps struct {
	Users    *service.UserService
	Catalog  *service.CatalogService
	Orders   *service.OrderService
	Sessions session.Store
	Engine   *workflow.Engine
	Policy   *policy.Policy
	Sink     Sink
}

type handlerFunc func(ctx context.Context, u *models.User, arg string) ([]*Response, error)

type route struct {
	capability policy.Capability
	handle     handlerFunc
}

// Dispatcher routes chat events to handlers and workflows. Every route declares the
// capability it needs and the policy is consulted once before the handler runs.
type Dispatcher struct {
	Deps
	cfg       Config
	commands  map[string]route
	callbacks map[string]route
	workflows map[string]policy.Capability
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher with the pharmacy command set
func NewDispatcher(deps Deps, cfg Config) *Dispatcher {
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 20
	}
	if cfg.MaxOrderQuantity <= 0 {
		cfg.MaxOrderQuantity = 1000
	}
	d := &Dispatcher{Deps: deps, cfg: cfg, logger: util.GetLogger()}

	d.workflows = map[string]policy.Capability{
		flows.KindCheckout:    policy.PlaceOrders,
		flows.KindAddMedicine: policy.ManageCatalog,
		flows.KindStockUpdate: policy.ManageStock,
		flows.KindPriceUpdate: policy.ManageCatalog,
		flows.KindBulkImport:  policy.ManageCatalog,
		flows.KindRemoveOne:   policy.RemoveItems,
		flows.KindRemoveAll:   policy.RemoveItems,
	}

	d.commands = map[string]route{
		"start":      {policy.Browse, d.help},
		"help":       {policy.Browse, d.help},
		"catalog":    {policy.Browse, d.listCatalog},
		"search":     {policy.Browse, d.search},
		"categories": {policy.Browse, d.listCategories},
		"category":   {policy.Browse, d.listCategory},
		"cart":       {policy.PlaceOrders, d.viewCart},
		"add":        {policy.PlaceOrders, d.addToCart},
		"remove":     {policy.PlaceOrders, d.removeFromCart},
		"clear":      {policy.PlaceOrders, d.clearCart},
		"myorders":   {policy.PlaceOrders, d.myOrders},
		"orders":     {policy.ManageOrders, d.listOrders},
		"order":      {policy.ManageOrders, d.showOrder},
		"complete":   {policy.ManageOrders, d.setStatus(models.OrderStatusCompleted)},
		"reopen":     {policy.ManageOrders, d.setStatus(models.OrderStatusPending)},
		"lowstock":   {policy.ManageStock, d.lowStock},
		"role":       {policy.ManageRoles, d.setRole},

		"checkout":       {policy.PlaceOrders, d.startWorkflow(flows.KindCheckout)},
		"addmedicine":    {policy.ManageCatalog, d.startWorkflow(flows.KindAddMedicine)},
		"stock":          {policy.ManageStock, d.startWorkflow(flows.KindStockUpdate)},
		"prices":         {policy.ManageCatalog, d.startWorkflow(flows.KindPriceUpdate)},
		"import":         {policy.ManageCatalog, d.startWorkflow(flows.KindBulkImport)},
		"removemedicine": {policy.RemoveItems, d.startWorkflow(flows.KindRemoveOne)},
		"removeall":      {policy.RemoveItems, d.startWorkflow(flows.KindRemoveAll)},
	}

	d.callbacks = map[string]route{
		"add":      {policy.PlaceOrders, d.addToCart},
		"remove":   {policy.PlaceOrders, d.removeFromCart},
		"cart":     {policy.PlaceOrders, d.viewCart},
		"clear":    {policy.PlaceOrders, d.clearCart},
		"checkout": {policy.PlaceOrders, d.startWorkflow(flows.KindCheckout)},
		"order":    {policy.ManageOrders, d.showOrder},
		"complete": {policy.ManageOrders, d.setStatus(models.OrderStatusCompleted)},
		"reopen":   {policy.ManageOrders, d.setStatus(models.OrderStatusPending)},
	}
	return d
}

// Dispatch handles an event and delivers every reply through the sink. Replies are
// returned even when delivery fails.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *Event) ([]*Response, error) {
	responses, err := d.Handle(ctx, ev)
	if err != nil {
		return nil, err
	}
	if d.Sink == nil {
		return responses, nil
	}
	for _, r := range responses {
		if err := d.Sink.Send(ctx, r); err != nil {
			util.NotificationsSentTotal.WithLabelValues("failed").Inc()
			d.logger.Error("Failed to deliver response", zap.Int64("user_id", r.UserID), zap.Error(err))
			continue
		}
		util.NotificationsSentTotal.WithLabelValues("sent").Inc()
	}
	return responses, nil
}

// Handle runs one event and returns the replies without delivering them. Events carrying
// an id already seen are ignored.
func (d *Dispatcher) Handle(ctx context.Context, ev *Event) ([]*Response, error) {
	ctx, span := util.StartSpan(ctx, "Dispatcher.Handle")
	defer span.End()

	if ev.ID != "" {
		seen, err := d.Sessions.MarkProcessed(ctx, ev.ID)
		if err != nil {
			util.RecordError(span, err)
			return nil, err
		}
		if seen {
			d.logger.Debug("Duplicate event ignored", zap.String("event_id", ev.ID))
			return nil, nil
		}
	}

	user, err := d.Users.Identify(ctx, ev.UserID, ev.FirstName)
	if err != nil {
		util.RecordError(span, err)
		return d.errorReply(ev.UserID, err), nil
	}

	var responses []*Response
	switch ev.Kind {
	case KindCommand:
		responses, err = d.handleCommand(ctx, user, ev)
	case KindCallback:
		responses, err = d.handleCallback(ctx, user, ev)
	case KindText:
		responses, err = d.handleText(ctx, user, ev)
	case KindDocument:
		responses, err = d.handleDocument(ctx, user, ev)
	default:
		return reply(user.ID, "Unsupported message."), nil
	}
	if err != nil {
		return d.errorReply(user.ID, err), nil
	}
	return responses, nil
}

func (d *Dispatcher) run(ctx context.Context, u *models.User, r route, arg string) ([]*Response, error) {
	if err := d.Policy.Check(u, r.capability); err != nil {
		return nil, err
	}
	return r.handle(ctx, u, arg)
}

func (d *Dispatcher) handleCommand(ctx context.Context, u *models.User, ev *Event) ([]*Response, error) {
	name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ev.Command), "/"))
	if name == callbackCancel {
		return d.cancel(ctx, u)
	}
	r, ok := d.commands[name]
	if !ok {
		return reply(u.ID, "Unknown command. Send /help to see what I can do."), nil
	}
	return d.run(ctx, u, r, strings.TrimSpace(ev.Args))
}

func (d *Dispatcher) handleCallback(ctx context.Context, u *models.User, ev *Event) ([]*Response, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(ev.Data), ":")
	switch name {
	case callbackWorkflow:
		return d.advance(ctx, u, workflow.Input{Text: arg})
	case callbackCancel:
		return d.cancel(ctx, u)
	}
	r, ok := d.callbacks[name]
	if !ok {
		return reply(u.ID, "This button is no longer valid."), nil
	}
	return d.run(ctx, u, r, arg)
}

func (d *Dispatcher) handleText(ctx context.Context, u *models.User, ev *Event) ([]*Response, error) {
	active, err := d.Engine.Active(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return d.advance(ctx, u, workflow.Input{Text: ev.Text})
	}
	return d.run(ctx, u, d.commands["search"], ev.Text)
}

func (d *Dispatcher) handleDocument(ctx context.Context, u *models.User, ev *Event) ([]*Response, error) {
	in := workflow.Input{File: ev.File, FileName: ev.FileName, Text: ev.Text}

	active, err := d.Engine.Active(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if active == nil {
		if err := d.Policy.Check(u, d.workflows[flows.KindBulkImport]); err != nil {
			return nil, err
		}
		if _, err := d.Engine.Start(ctx, flows.KindBulkImport, u.ID); err != nil {
			return nil, err
		}
	}
	return d.advance(ctx, u, in)
}

func (d *Dispatcher) startWorkflow(kind string) handlerFunc {
	return func(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
		out, err := d.Engine.Start(ctx, kind, u.ID)
		if errors.Is(err, workflow.ErrUnknownWorkflow) && (kind == flows.KindRemoveOne || kind == flows.KindRemoveAll) {
			return reply(u.ID, "Removing medicines is disabled on this deployment."), nil
		}
		if err != nil {
			return nil, err
		}
		return d.renderOutcome(u.ID, out), nil
	}
}

// advance feeds input to the active workflow. The role is checked again on every step,
// so a user demoted mid-workflow loses the session instead of finishing it.
func (d *Dispatcher) advance(ctx context.Context, u *models.User, in workflow.Input) ([]*Response, error) {
	ws, err := d.Engine.Active(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if ws != nil {
		if denied := d.Policy.Check(u, d.workflows[ws.Kind]); denied != nil {
			if _, err := d.Engine.Cancel(ctx, u.ID); err != nil {
				return nil, err
			}
			d.logger.Warn("Workflow cancelled after role change",
				zap.Int64("user_id", u.ID), zap.String("kind", ws.Kind), zap.String("role", u.Role))
			return nil, denied
		}
	}
	out, err := d.Engine.Advance(ctx, u.ID, in)
	if errors.Is(err, workflow.ErrNoSession) {
		return reply(u.ID, "Nothing is in progress. Send /help to see what I can do."), nil
	}
	if err != nil {
		return nil, err
	}
	return d.renderOutcome(u.ID, out), nil
}

func (d *Dispatcher) cancel(ctx context.Context, u *models.User) ([]*Response, error) {
	ws, err := d.Engine.Cancel(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return reply(u.ID, "Nothing to cancel."), nil
	}
	if ws.Kind == flows.KindCheckout {
		return reply(u.ID, "Checkout cancelled and your cart was cleared."), nil
	}
	return reply(u.ID, "Cancelled."), nil
}

func reply(userID int64, text string, buttons ...Button) []*Response {
	return []*Response{{UserID: userID, Text: text, Buttons: buttons}}
}

// errorReply renders a failure for the user. Unclassified errors are logged and hidden.
func (d *Dispatcher) errorReply(userID int64, err error) []*Response {
	var (
		perm  *service.PermissionError
		nf    *service.NotFoundError
		verr  *service.ValidationError
		wverr *workflow.ValidationError
		perr  *service.PersistenceError
	)
	switch {
	case errors.As(err, &perm):
		return reply(userID, "Sorry, you are not allowed to "+perm.Capability+".")
	case errors.As(err, &nf):
		return reply(userID, capitalize(nf.Error())+".")
	case errors.As(err, &verr):
		return reply(userID, capitalize(verr.Error())+".")
	case errors.As(err, &wverr):
		return reply(userID, capitalize(wverr.Error())+".")
	case errors.Is(err, service.ErrInvalidTransition):
		return reply(userID, capitalize(err.Error())+".")
	case errors.As(err, &perr):
		d.logger.Error("Persistence failure", zap.Int64("user_id", userID), zap.Error(err))
		return reply(userID, "Something went wrong while saving. Please try again.")
	}
	d.logger.Error("Unhandled dispatch error", zap.Int64("user_id", userID), zap.Error(err))
	return reply(userID, "Something went wrong. Please try again later.")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
