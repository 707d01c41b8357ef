package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"pharmacy-service/internal/models"
	"pharmacy-service/internal/policy"
	"pharmacy-service/internal/service"
)

func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(arg), "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, &service.ValidationError{Field: what, Message: "expected a numeric id"}
	}
	return id, nil
}

func (d *Dispatcher) help(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	var b strings.Builder
	name := u.FirstName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hello %s! You can:\n", name)
	b.WriteString("/catalog - browse medicines\n/search <name> - find a medicine\n/categories - list categories\n")
	b.WriteString("/cart - view your cart\n/checkout - place an order\n/myorders - your orders\n/cancel - stop the current step\n")
	if d.Policy.Allows(u.Role, policy.ManageOrders) {
		b.WriteString("\nStaff:\n/orders [pending|completed] - list orders\n/order <id> - order details\n/complete <id>, /reopen <id>\n")
		b.WriteString("/addmedicine, /stock, /prices, /import, /lowstock\n")
	}
	if d.Policy.Allows(u.Role, policy.RemoveItems) {
		b.WriteString("\nAdmin:\n/removemedicine, /removeall, /role <user id> <customer|staff|admin>\n")
	}
	return reply(u.ID, strings.TrimRight(b.String(), "\n")), nil
}

func (d *Dispatcher) medicineList(u *models.User, title string, medicines []models.Medicine) []*Response {
	if len(medicines) == 0 {
		return reply(u.ID, "No medicines found.")
	}
	var (
		b       strings.Builder
		buttons []Button
	)
	b.WriteString(title)
	for i, m := range medicines {
		if i == d.cfg.ListLimit {
			fmt.Fprintf(&b, "\n...and %d more", len(medicines)-i)
			break
		}
		fmt.Fprintf(&b, "\n#%d %s (%s) - %s, %d in stock", m.ID, m.Name, m.DosageForm, d.money(m.Price), m.StockQuantity)
		if m.StockQuantity > 0 {
			buttons = append(buttons, Button{Label: "Add " + m.Name, Data: fmt.Sprintf("add:%d", m.ID)})
		}
	}
	return reply(u.ID, b.String(), buttons...)
}

func (d *Dispatcher) listCatalog(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	medicines, err := d.Catalog.ListMedicines(ctx)
	if err != nil {
		return nil, err
	}
	return d.medicineList(u, "Available medicines:", medicines), nil
}

func (d *Dispatcher) search(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	res, err := d.Catalog.Search(ctx, arg)
	if err != nil {
		return nil, err
	}
	if len(res.Matches) > 0 {
		return d.medicineList(u, fmt.Sprintf("Results for %q:", strings.TrimSpace(arg)), res.Matches), nil
	}
	if len(res.Suggestions) == 0 {
		return reply(u.ID, fmt.Sprintf("No medicine matches %q.", strings.TrimSpace(arg))), nil
	}
	suggested := make([]models.Medicine, 0, len(res.Suggestions))
	for _, s := range res.Suggestions {
		suggested = append(suggested, s.Medicine)
	}
	return d.medicineList(u, fmt.Sprintf("No exact match for %q. Did you mean:", strings.TrimSpace(arg)), suggested), nil
}

func (d *Dispatcher) listCategories(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	categories, err := d.Catalog.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		return reply(u.ID, "The catalog is empty."), nil
	}
	return reply(u.ID, "Categories:\n"+strings.Join(categories, "\n")+"\n\nSend /category <name> to browse one."), nil
}

func (d *Dispatcher) listCategory(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	if strings.TrimSpace(arg) == "" {
		return d.listCategories(ctx, u, arg)
	}
	medicines, err := d.Catalog.ListByCategory(ctx, arg)
	if err != nil {
		return nil, err
	}
	return d.medicineList(u, strings.TrimSpace(arg)+":", medicines), nil
}

// addToCart accepts "<id>" or "<id> <quantity>"
func (d *Dispatcher) addToCart(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	fields := strings.Fields(arg)
	if len(fields) == 0 {
		return reply(u.ID, "Usage: /add <medicine id> [quantity]"), nil
	}
	id, err := parseID(fields[0], "medicine id")
	if err != nil {
		return nil, err
	}
	qty := 1
	if len(fields) > 1 {
		if qty, err = strconv.Atoi(fields[1]); err != nil || qty < 1 || qty > d.cfg.MaxOrderQuantity {
			return nil, &service.ValidationError{Field: "quantity", Message: fmt.Sprintf("must be between 1 and %d", d.cfg.MaxOrderQuantity)}
		}
	}

	m, err := d.Catalog.GetMedicine(ctx, id)
	if err != nil {
		return nil, err
	}
	cart, err := d.Sessions.GetCart(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if cart.Items[id]+qty > d.cfg.MaxOrderQuantity {
		return nil, &service.ValidationError{Field: "quantity", Message: fmt.Sprintf("at most %d per medicine", d.cfg.MaxOrderQuantity)}
	}

	total, err := d.Sessions.AddToCart(ctx, u.ID, id, qty)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("Added %d x %s. You now have %d in your cart.", qty, m.Name, total)
	if total > m.StockQuantity {
		text += fmt.Sprintf("\nNote: only %d in stock.", m.StockQuantity)
	}
	return reply(u.ID, text,
		Button{Label: "View cart", Data: "cart"},
		Button{Label: "Checkout", Data: "checkout"},
	), nil
}

func (d *Dispatcher) removeFromCart(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	id, err := parseID(arg, "medicine id")
	if err != nil {
		return nil, err
	}
	if err := d.Sessions.RemoveFromCart(ctx, u.ID, id); err != nil {
		return nil, err
	}
	return d.viewCart(ctx, u, "")
}

func (d *Dispatcher) clearCart(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	if err := d.Sessions.ClearCart(ctx, u.ID); err != nil {
		return nil, err
	}
	return reply(u.ID, "Your cart is empty."), nil
}

func (d *Dispatcher) viewCart(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	cart, err := d.Sessions.GetCart(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return reply(u.ID, "Your cart is empty. Send /catalog to browse."), nil
	}
	preview, err := d.Orders.PreviewCart(ctx, cart)
	if err != nil {
		return nil, err
	}

	var (
		b       strings.Builder
		buttons []Button
	)
	b.WriteString("Your cart:")
	for _, l := range preview.Lines {
		fmt.Fprintf(&b, "\n%d x %s", l.Quantity, l.Name)
		if l.Warning == "" {
			fmt.Fprintf(&b, " = %s", d.money(l.LineTotal))
		} else {
			fmt.Fprintf(&b, " (%s)", l.Warning)
		}
		buttons = append(buttons, Button{Label: "Remove " + l.Name, Data: fmt.Sprintf("remove:%d", l.MedicineID)})
	}
	fmt.Fprintf(&b, "\nTotal: %s", d.money(preview.Total))
	buttons = append(buttons, Button{Label: "Checkout", Data: "checkout"}, Button{Label: "Clear cart", Data: "clear"})
	return reply(u.ID, b.String(), buttons...), nil
}

func (d *Dispatcher) myOrders(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	orders, err := d.Orders.ListUserOrders(ctx, u.ID, d.cfg.ListLimit)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return reply(u.ID, "You have no orders yet."), nil
	}
	var b strings.Builder
	b.WriteString("Your orders:")
	for _, o := range orders {
		fmt.Fprintf(&b, "\n%s", d.orderLine(&o))
	}
	return reply(u.ID, b.String()), nil
}

func (d *Dispatcher) listOrders(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	status := strings.ToLower(strings.TrimSpace(arg))
	switch status {
	case "", "all":
		status = ""
	case models.OrderStatusPending, models.OrderStatusCompleted:
	default:
		return nil, &service.ValidationError{Field: "status", Message: "must be pending or completed"}
	}

	orders, err := d.Orders.ListOrders(ctx, status, d.cfg.ListLimit)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return reply(u.ID, "No orders."), nil
	}
	var (
		b       strings.Builder
		buttons []Button
	)
	b.WriteString("Orders:")
	for _, o := range orders {
		fmt.Fprintf(&b, "\n%s - %s, %s", d.orderLine(&o), o.CustomerName, o.CustomerPhone)
		buttons = append(buttons, Button{Label: "Order #" + o.DisplayToken, Data: fmt.Sprintf("order:%d", o.ID)})
	}
	return reply(u.ID, b.String(), buttons...), nil
}

func (d *Dispatcher) showOrder(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	id, err := parseID(arg, "order id")
	if err != nil {
		return nil, err
	}
	order, err := d.Orders.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	history, err := d.Orders.GetStatusHistory(ctx, id)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString(d.orderDetails(order))
	fmt.Fprintf(&b, "\nCustomer: %s, %s", order.CustomerName, order.CustomerPhone)
	for _, h := range history {
		fmt.Fprintf(&b, "\n%s: %s -> %s by %d", h.ChangedAt.Format("2006-01-02 15:04"), h.OldStatus, h.NewStatus, h.ChangedBy)
	}

	action := Button{Label: "Mark completed", Data: fmt.Sprintf("complete:%d", order.ID)}
	if order.Status == models.OrderStatusCompleted {
		action = Button{Label: "Reopen", Data: fmt.Sprintf("reopen:%d", order.ID)}
	}
	return reply(u.ID, b.String(), action), nil
}

func (d *Dispatcher) setStatus(status string) handlerFunc {
	return func(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
		id, err := parseID(arg, "order id")
		if err != nil {
			return nil, err
		}
		order, err := d.Orders.UpdateStatus(ctx, u.ID, id, status, "")
		if err != nil {
			return nil, err
		}
		return reply(u.ID, fmt.Sprintf("Order #%s is now %s.", order.DisplayToken, order.Status)), nil
	}
}

func (d *Dispatcher) lowStock(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	medicines, err := d.Catalog.LowStock(ctx)
	if err != nil {
		return nil, err
	}
	if len(medicines) == 0 {
		return reply(u.ID, "No medicines are running low."), nil
	}
	var b strings.Builder
	b.WriteString("Running low:")
	for _, m := range medicines {
		fmt.Fprintf(&b, "\n#%d %s - %d left", m.ID, m.Name, m.StockQuantity)
	}
	return reply(u.ID, b.String()), nil
}

// setRole accepts "<user id> <role>"
func (d *Dispatcher) setRole(ctx context.Context, u *models.User, arg string) ([]*Response, error) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return reply(u.ID, "Usage: /role <user id> <customer|staff|admin>"), nil
	}
	id, err := parseID(fields[0], "user id")
	if err != nil {
		return nil, err
	}
	if id == u.ID {
		return nil, &service.ValidationError{Field: "user id", Message: "you cannot change your own role"}
	}
	role := strings.ToLower(fields[1])
	if err := d.Users.SetRole(ctx, u.ID, id, role); err != nil {
		return nil, err
	}
	return reply(u.ID, fmt.Sprintf("User %d is now %s.", id, role)), nil
}
