// Package crm implements the lead-intake business tools over a store.Writer:
// customer search and creation, lead scoring, service requests and
// notifications, plus the compensating tools used during rollback.
package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/processd/internal/store"
	"github.com/fyrsmithlabs/processd/internal/template"
	"github.com/fyrsmithlabs/processd/internal/tool"
)

// Tool names.
const (
	SearchCustomers  = "search_customers"
	CreateCustomer   = "create_customer"
	DeleteCustomer   = "delete_customer"
	ScoreLead        = "score_lead"
	CreateRequest    = "create_request"
	CancelRequest    = "cancel_request"
	SendNotification = "send_notification"
)

// Tables written by the tools.
const (
	TableCustomers     = "customers"
	TableRequests      = "requests"
	TableNotifications = "notifications"
)

// ErrMissingArgument is returned when a required argument is absent.
var ErrMissingArgument = errors.New("missing required argument")

// Tools holds the store the tools operate on.
type Tools struct {
	store store.Writer
	now   func() time.Time
}

// New creates the tool set.
func New(w store.Writer) *Tools {
	return &Tools{store: w, now: time.Now}
}

// Register adds every tool to r.
func (t *Tools) Register(r *tool.Registry) error {
	tools := map[string]tool.Func{
		SearchCustomers:  t.searchCustomers,
		CreateCustomer:   t.createCustomer,
		DeleteCustomer:   t.deleteCustomer,
		ScoreLead:        t.scoreLead,
		CreateRequest:    t.createRequest,
		CancelRequest:    t.cancelRequest,
		SendNotification: t.sendNotification,
	}
	for _, name := range []string{SearchCustomers, CreateCustomer, DeleteCustomer, ScoreLead, CreateRequest, CancelRequest, SendNotification} {
		if err := r.Register(name, tools[name]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tools) searchCustomers(ctx context.Context, args map[string]any) (map[string]any, error) {
	where := map[string]any{}
	if email := str(args, "email"); email != "" {
		where["email"] = strings.ToLower(email)
	}
	if name := str(args, "name"); name != "" {
		where["name"] = name
	}
	if len(where) == 0 {
		return nil, fmt.Errorf("%w: email or name", ErrMissingArgument)
	}

	rows, err := t.store.Query(ctx, TableCustomers, store.Predicate{Where: where})
	if err != nil {
		return nil, fmt.Errorf("search customers: %w", err)
	}
	customers := make([]any, 0, len(rows))
	for _, r := range rows {
		customers = append(customers, r)
	}
	out := map[string]any{
		"found":     len(rows) > 0,
		"count":     len(rows),
		"customers": customers,
	}
	if len(rows) > 0 {
		out["customer_id"] = rows[0][store.IDColumn]
	}
	return out, nil
}

func (t *Tools) createCustomer(ctx context.Context, args map[string]any) (map[string]any, error) {
	name, email := str(args, "name"), str(args, "email")
	if name == "" || email == "" {
		return nil, fmt.Errorf("%w: name and email", ErrMissingArgument)
	}

	row := store.Row{
		"name":       name,
		"email":      strings.ToLower(email),
		"status":     "lead",
		"created_at": t.now().UTC().Format(time.RFC3339),
	}
	if phone := str(args, "phone"); phone != "" {
		row["phone"] = phone
	}
	if tenant := str(args, "tenant_id"); tenant != "" {
		row["tenant_id"] = tenant
	}
	created, err := t.store.Insert(ctx, TableCustomers, row)
	if err != nil {
		return nil, fmt.Errorf("create customer: %w", err)
	}
	return created, nil
}

// deleteCustomer is idempotent: removing an absent customer succeeds.
func (t *Tools) deleteCustomer(ctx context.Context, args map[string]any) (map[string]any, error) {
	id := str(args, "id")
	if id == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingArgument)
	}
	existed, err := t.store.Delete(ctx, TableCustomers, id)
	if err != nil {
		return nil, fmt.Errorf("delete customer: %w", err)
	}
	return map[string]any{"id": id, "deleted": existed}, nil
}

func (t *Tools) scoreLead(ctx context.Context, args map[string]any) (map[string]any, error) {
	id := str(args, "customer_id")
	if id == "" {
		return nil, fmt.Errorf("%w: customer_id", ErrMissingArgument)
	}
	customer, err := t.store.Get(ctx, TableCustomers, id)
	if err != nil {
		return nil, fmt.Errorf("score lead: %w", err)
	}
	return map[string]any{
		"customer_id": id,
		"lead_score":  Score(customer, str(args, "source")),
	}, nil
}

// Score rates a lead from 0 to 100 using contact completeness and source.
func Score(customer store.Row, source string) int {
	score := 40
	if !template.IsNull(customer["email"]) {
		score += 20
	}
	if !template.IsNull(customer["phone"]) {
		score += 15
	}
	switch strings.ToLower(source) {
	case "referral":
		score += 25
	case "web", "website":
		score += 10
	case "event":
		score += 15
	}
	if score > 100 {
		score = 100
	}
	return score
}

func (t *Tools) createRequest(ctx context.Context, args map[string]any) (map[string]any, error) {
	customerID, serviceType := str(args, "customer_id"), str(args, "service_type")
	if customerID == "" || serviceType == "" {
		return nil, fmt.Errorf("%w: customer_id and service_type", ErrMissingArgument)
	}
	row := store.Row{
		"customer_id":  customerID,
		"service_type": serviceType,
		"status":       "new",
		"created_at":   t.now().UTC().Format(time.RFC3339),
	}
	if desc := str(args, "description"); desc != "" {
		row["description"] = desc
	}
	created, err := t.store.Insert(ctx, TableRequests, row)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return created, nil
}

// cancelRequest marks a request cancelled. Cancelling a missing or already
// cancelled request succeeds.
func (t *Tools) cancelRequest(ctx context.Context, args map[string]any) (map[string]any, error) {
	id := str(args, "id")
	if id == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingArgument)
	}
	row, err := t.store.Update(ctx, TableRequests, id, store.Row{"status": "cancelled"})
	if errors.Is(err, store.ErrNotFound) {
		return map[string]any{"id": id, "cancelled": false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cancel request: %w", err)
	}
	return map[string]any{"id": id, "cancelled": true, "status": row["status"]}, nil
}

func (t *Tools) sendNotification(ctx context.Context, args map[string]any) (map[string]any, error) {
	to := str(args, "to")
	if to == "" {
		return nil, fmt.Errorf("%w: to", ErrMissingArgument)
	}
	tmpl := str(args, "template")
	if tmpl == "" {
		tmpl = "default"
	}
	row, err := t.store.Insert(ctx, TableNotifications, store.Row{
		"to":       to,
		"template": tmpl,
		"sent_at":  t.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("send notification: %w", err)
	}
	return map[string]any{"id": row[store.IDColumn], "to": to, "sent": true}, nil
}

func str(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	return strings.TrimSpace(template.Stringify(v))
}
