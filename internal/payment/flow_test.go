package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/iliyamo/import-brokerage/internal/model"
	"github.com/iliyamo/import-brokerage/internal/order"
)

// The ledger and the machine share one store, as they share the database in
// the server.
func TestWebhookUnlocksLetterOfCredit(t *testing.T) {
	store := newMemStore()
	machine := order.NewMachine(store, store, nil, nil)
	ledger := NewLedger(store, machine, Config{MerchantID: testMerchant, MerchantSecret: testSecret, Currency: "USD"}, nil)
	ctx := context.Background()
	buyer := uuid.New()

	o := &model.Order{
		UserID: buyer, VehicleID: uuid.New(), ShippingAddress: "12 Harbour Rd",
		TotalCost: decimal.RequireFromString("15000.00"),
	}
	if err := machine.Create(ctx, o); err != nil {
		t.Fatal(err)
	}

	if _, err := machine.Apply(ctx, *o, model.StatusLCRequested, "finance", ""); !errors.Is(err, order.ErrGuardNotSatisfied) {
		t.Fatalf("unpaid LC_REQUESTED error = %v, want ErrGuardNotSatisfied", err)
	}

	if _, _, err := ledger.Initiate(ctx, buyer, o.ID, "pay-1"); err != nil {
		t.Fatal(err)
	}
	cur, _ := store.Get(ctx, o.ID)
	if _, err := machine.Apply(ctx, cur, model.StatusLCRequested, "finance", ""); !errors.Is(err, order.ErrGuardNotSatisfied) {
		t.Fatalf("pending LC_REQUESTED error = %v, want ErrGuardNotSatisfied", err)
	}

	res, err := ledger.RecordWebhookResult(ctx, notification(o.ID, "ext-1", "15000.00", StatusSuccess))
	if err != nil || res.Outcome != OutcomeCompleted {
		t.Fatalf("RecordWebhookResult = %+v, %v", res, err)
	}
	cur, _ = store.Get(ctx, o.ID)
	if cur.Status != model.StatusPaymentConfirmed {
		t.Fatalf("status after webhook = %s, want PAYMENT_CONFIRMED", cur.Status)
	}

	got, err := machine.Apply(ctx, cur, model.StatusLCRequested, "finance", "submit LC")
	if err != nil || got.Status != model.StatusLCRequested || got.PaymentStatus != model.PaymentCompleted {
		t.Fatalf("paid LC_REQUESTED = %+v, %v", got, err)
	}

	hist, _ := store.History(ctx, o.ID)
	if len(hist) != 2 {
		t.Fatalf("history = %+v, want 2 rows", hist)
	}
	if hist[0].ToStatus != model.StatusPaymentConfirmed || hist[0].ChangedBy != order.PaymentSystemActor {
		t.Fatalf("confirmation row = %+v", hist[0])
	}
	if hist[1].ToStatus != model.StatusLCRequested || hist[1].ChangedBy != "finance" {
		t.Fatalf("LC row = %+v", hist[1])
	}
}
