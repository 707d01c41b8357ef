package bot

import (
	"errors"
	"fmt"
	"strings"

	"pharmacy-service/internal/flows"
	"pharmacy-service/internal/models"
	"pharmacy-service/internal/service"
	"pharmacy-service/internal/workflow"

	"github.com/shopspring/decimal"
)

func (d *Dispatcher) money(v decimal.Decimal) string {
	return v.StringFixed(2) + " " + d.cfg.Currency
}

func (d *Dispatcher) orderLine(o *models.Order) string {
	return fmt.Sprintf("#%s %s - %s (%s)", o.DisplayToken, o.OrderDate.Format("2006-01-02"), d.money(o.TotalAmount), o.Status)
}

func (d *Dispatcher) orderDetails(o *models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order #%s (%s), %s", o.DisplayToken, o.OrderNumber, o.Status)
	for _, item := range o.Items {
		name := item.MedicineName
		if name == "" {
			name = fmt.Sprintf("medicine #%d", item.MedicineID)
		}
		fmt.Fprintf(&b, "\n%d x %s @ %s = %s", item.Quantity, name, d.money(item.UnitPrice), d.money(item.TotalPrice))
	}
	fmt.Fprintf(&b, "\nTotal: %s", d.money(o.TotalAmount))
	return b.String()
}

func droppedLines(dropped []service.DroppedLine) string {
	var b strings.Builder
	for _, l := range dropped {
		fmt.Fprintf(&b, "\n- %v", l.Err)
	}
	return b.String()
}

// renderOutcome turns a workflow step result into one reply
func (d *Dispatcher) renderOutcome(userID int64, out *workflow.Outcome) []*Response {
	var parts []string

	switch {
	case out.Done:
		if out.Message != "" {
			parts = append(parts, out.Message)
		}
		parts = append(parts, d.renderResult(out.Result))
	case out.Ended && out.Err != nil:
		parts = append(parts, d.renderFailure(out.Err))
	case out.Ended:
		msg := out.Message
		if msg == "" {
			msg = "Cancelled."
		}
		parts = append(parts, msg)
	default:
		if out.Message != "" {
			parts = append(parts, out.Message)
		}
		if out.Rejected != nil {
			parts = append(parts, capitalize(out.Rejected.Error())+".")
		}
		if out.Err != nil {
			parts = append(parts, "Something went wrong while saving. Please try again.")
		}
	}

	r := &Response{UserID: userID}
	if out.Prompt != nil && !out.Ended {
		parts = append(parts, out.Prompt.Text)
		for _, c := range out.Prompt.Choices {
			r.Buttons = append(r.Buttons, Button{Label: c.Label, Data: callbackWorkflow + ":" + c.Value})
		}
		r.Buttons = append(r.Buttons, Button{Label: "Cancel", Data: callbackCancel})
	}
	r.Text = strings.Join(parts, "\n\n")
	return []*Response{r}
}

func (d *Dispatcher) renderFailure(err error) string {
	var (
		empty *service.EmptyOrderError
		abort *workflow.AbortError
	)
	switch {
	case errors.As(err, &empty):
		return "None of the items in your cart can be ordered right now:" + droppedLines(empty.Dropped)
	case errors.As(err, &abort):
		return abort.Message
	}
	return d.errorReply(0, err)[0].Text
}

func (d *Dispatcher) renderResult(result interface{}) string {
	switch r := result.(type) {
	case *service.PlaceOrderResult:
		text := "Thank you! Your order has been placed.\n" + d.orderDetails(r.Order)
		if len(r.Dropped) > 0 {
			text += "\n\nThese items were left out:" + droppedLines(r.Dropped)
		}
		return text
	case *models.Medicine:
		return fmt.Sprintf("Added #%d %s: %d units at %s.", r.ID, r.Name, r.StockQuantity, d.money(r.Price))
	case *flows.RestockResult:
		return fmt.Sprintf("Added %d units to %s. Stock is now %d.", r.Added, r.Medicine.Name, r.NewStock)
	case *flows.StockResult:
		return fmt.Sprintf("Stock of %s changed from %d to %d.", r.Medicine.Name, r.OldStock, r.NewStock)
	case *flows.PriceResult:
		scope := "all medicines"
		if r.Adjustment.Category != "" {
			scope = r.Adjustment.Category
		}
		change := r.Adjustment.Value.String() + "%"
		if r.Adjustment.Mode == service.AdjustFixed {
			change = d.money(r.Adjustment.Value)
		}
		return fmt.Sprintf("Adjusted prices of %d medicines in %s by %s.", r.Changes, scope, change)
	case *flows.RemovalResult:
		if r.Medicine != nil {
			return fmt.Sprintf("%s was removed from the catalog.", r.Medicine.Name)
		}
		return fmt.Sprintf("Removed %d medicines from the catalog.", r.Count)
	case *service.ImportReport:
		text := fmt.Sprintf("Import finished: %d added, %d updated, %d skipped, %d failed.", r.Added, r.Updated, r.Skipped, r.Failed)
		for i, e := range r.Errors {
			if i == 10 {
				text += fmt.Sprintf("\n...and %d more errors", len(r.Errors)-i)
				break
			}
			text += "\n- " + e
		}
		return text
	}
	return "Done."
}
