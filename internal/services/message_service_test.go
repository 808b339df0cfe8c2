package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/tbourn/dealer-negotiation-backend/internal/domain"
	"github.com/tbourn/dealer-negotiation-backend/internal/repo"
	"github.com/tbourn/dealer-negotiation-backend/internal/resilience"
)

func TestAppendNegotiation_ConversationRoundTrip(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	n, _, _ := s.Negotiations.Create(ctx, buyInput("Ana", "11999990000", "Oi"))

	reply, replayed, err := s.Messages.AppendNegotiation(ctx, n.ID, Staff("Marta"), "  Olá Ana!  ", "")
	if err != nil || replayed {
		t.Fatalf("staff reply: replayed=%v err=%v", replayed, err)
	}
	if reply.SenderRole != domain.RoleDealer || reply.Content != "Olá Ana!" || reply.Sender.Name != "Loja" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	ledger, err := s.Messages.ListNegotiation(ctx, n.ID, Customer(" ANA "))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ledger.Degraded || ledger.Status != domain.NegotiationInProgress || len(ledger.Messages) != 2 {
		t.Fatalf("unexpected ledger: %+v", ledger)
	}
	if ledger.Messages[0].Content != "Oi" || ledger.Messages[1].Content != "Olá Ana!" {
		t.Fatalf("order wrong: %q, %q", ledger.Messages[0].Content, ledger.Messages[1].Content)
	}
	if ledger.Messages[0].Sender.Name != "Ana" {
		t.Fatalf("sender not loaded: %+v", ledger.Messages[0].Sender)
	}
}

func TestAppendNegotiation_Validation(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	n, _, _ := s.Negotiations.Create(ctx, buyInput("Ana", "1", ""))

	if _, _, err := s.Messages.AppendNegotiation(ctx, n.ID, Customer("Ana"), " \n\t ", ""); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}
	if _, _, err := s.Messages.AppendNegotiation(ctx, n.ID, Customer("Ana"), strings.Repeat("é", 51), ""); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if _, _, err := s.Messages.AppendNegotiation(ctx, n.ID, Customer("Bia"), "hi", ""); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if _, _, err := s.Messages.AppendNegotiation(ctx, "missing", Customer("Ana"), "hi", ""); !errors.Is(err, ErrNegotiationNotFound) {
		t.Fatalf("expected ErrNegotiationNotFound, got %v", err)
	}
	if _, err := s.Messages.ListNegotiation(ctx, n.ID, Customer("")); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied on read, got %v", err)
	}
}

func TestAppendNegotiation_ClientKeyReplayDoesNotDuplicate(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	n, _, _ := s.Negotiations.Create(ctx, buyInput("Ana", "1", ""))

	first, replayed, err := s.Messages.AppendNegotiation(ctx, n.ID, Customer("Ana"), "Oi", "key-1")
	if err != nil || replayed {
		t.Fatalf("first: replayed=%v err=%v", replayed, err)
	}
	again, replayed, err := s.Messages.AppendNegotiation(ctx, n.ID, Customer("Ana"), "Oi", "key-1")
	if err != nil || !replayed || again.ID != first.ID {
		t.Fatalf("replay: %+v replayed=%v err=%v", again, replayed, err)
	}
	ledger, _ := s.Messages.ListNegotiation(ctx, n.ID, Staff(""))
	if len(ledger.Messages) != 1 {
		t.Fatalf("ledger has %d messages; want 1", len(ledger.Messages))
	}
}

func TestAppendNegotiation_AcceptedInTerminalStates(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	n, _, _ := s.Negotiations.Create(ctx, buyInput("Ana", "1", ""))
	_, _ = s.Negotiations.UpdateStatus(ctx, n.ID, Staff(""), "CLOSED")

	if _, _, err := s.Messages.AppendNegotiation(ctx, n.ID, Customer("Ana"), "still there?", ""); err != nil {
		t.Fatalf("append on CLOSED: %v", err)
	}
	got, _ := s.Negotiations.Get(ctx, n.ID, Staff(""))
	if got.Status != domain.NegotiationClosed {
		t.Fatalf("status = %s; CLOSED must be kept", got.Status)
	}
}

func TestAppendNegotiation_ConcurrentFirstMessages(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	n, _, _ := s.Negotiations.Create(ctx, buyInput("Ana", "1", ""))

	const writers = 6
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := Customer("Ana")
			if i%2 == 1 {
				actor = Staff("")
			}
			if _, _, err := s.Messages.AppendNegotiation(ctx, n.ID, actor, fmt.Sprintf("msg %d", i), ""); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	ledger, _ := s.Messages.ListNegotiation(ctx, n.ID, Staff(""))
	if len(ledger.Messages) != writers || ledger.Status != domain.NegotiationInProgress {
		t.Fatalf("ledger len=%d status=%s", len(ledger.Messages), ledger.Status)
	}
	for i := 1; i < len(ledger.Messages); i++ {
		prev, cur := ledger.Messages[i-1], ledger.Messages[i]
		if cur.CreatedAt.Before(prev.CreatedAt) || (cur.CreatedAt.Equal(prev.CreatedAt) && cur.ID < prev.ID) {
			t.Fatalf("ledger not ordered at %d", i)
		}
	}
}

func TestOrderChat_LockedWhenCompleted(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	o, err := s.Orders.Create(ctx, checkoutInput("Carlos Silva"))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	m, _, err := s.Messages.AppendOrder(ctx, o.ID, Customer("carlos silva"), "Quando posso retirar?", "")
	if err != nil {
		t.Fatalf("customer append: %v", err)
	}
	if m.SenderName != "Carlos Silva" || m.SenderRole != domain.RoleCustomer {
		t.Fatalf("sender should be the stored customer: %+v", m)
	}
	r, _, err := s.Messages.AppendOrder(ctx, o.ID, Staff(""), "Amanhã às 10h", "")
	if err != nil || r.SenderName != "Loja" {
		t.Fatalf("staff append: %+v err=%v", r, err)
	}

	if _, err := s.Orders.UpdateStatus(ctx, o.ID, Staff(""), "COMPLETED"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, _, err := s.Messages.AppendOrder(ctx, o.ID, Customer("Carlos Silva"), "obrigado", ""); !errors.Is(err, ErrChatLocked) {
		t.Fatalf("customer: expected ErrChatLocked, got %v", err)
	}
	if _, _, err := s.Messages.AppendOrder(ctx, o.ID, Staff("Marta"), "de nada", ""); !errors.Is(err, ErrChatLocked) {
		t.Fatalf("staff: expected ErrChatLocked, got %v", err)
	}

	ledger, err := s.Messages.ListOrder(ctx, o.ID, Customer("CARLOS SILVA"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !ledger.Locked || ledger.Status != domain.OrderCompleted || len(ledger.Messages) != 2 {
		t.Fatalf("unexpected ledger: %+v", ledger)
	}

	if _, err := s.Orders.UpdateStatus(ctx, o.ID, Staff(""), "CANCELLED"); err != nil {
		t.Fatalf("cancel completed order: %v", err)
	}
	if _, _, err := s.Messages.AppendOrder(ctx, o.ID, Customer("Carlos Silva"), "e agora?", ""); !errors.Is(err, ErrChatLocked) {
		t.Fatalf("cancelled after completion must stay locked, got %v", err)
	}
	ledger, err = s.Messages.ListOrder(ctx, o.ID, Staff(""))
	if err != nil || !ledger.Locked || ledger.Status != domain.OrderCancelled {
		t.Fatalf("unexpected ledger after cancel: %+v err=%v", ledger, err)
	}
}

func TestOrderChat_AccessAndNotFound(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	o, _ := s.Orders.Create(ctx, checkoutInput("Carlos Silva"))

	if _, _, err := s.Messages.AppendOrder(ctx, o.ID, Customer("Carlos"), "hi", ""); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if _, err := s.Messages.ListOrder(ctx, "missing", Customer("Carlos Silva")); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	ledger, err := s.Messages.ListOrder(ctx, o.ID, Customer("Carlos Silva"))
	if err != nil || ledger.Messages == nil || len(ledger.Messages) != 0 {
		t.Fatalf("expected empty non-nil ledger, got %+v err=%v", ledger, err)
	}
}

func TestOrderChat_ReplayByClientKey(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	o, _ := s.Orders.Create(ctx, checkoutInput("Carlos Silva"))

	a, _, _ := s.Messages.AppendOrder(ctx, o.ID, Customer("Carlos Silva"), "x", "k")
	b, replayed, err := s.Messages.AppendOrder(ctx, o.ID, Customer("Carlos Silva"), "x", "k")
	if err != nil || !replayed || a.ID != b.ID {
		t.Fatalf("replay failed: a=%d b=%+v replayed=%v err=%v", a.ID, b, replayed, err)
	}
}

func TestHasClientKey_RequiresThreadAccess(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	o, _ := s.Orders.Create(ctx, checkoutInput("Carlos Silva"))
	if _, _, err := s.Messages.AppendOrder(ctx, o.ID, Customer("Carlos Silva"), "oi", "k-1"); err != nil {
		t.Fatalf("append: %v", err)
	}

	if ok, err := s.Messages.HasClientKey(ctx, repo.ThreadOrder, o.ID, Customer("carlos silva"), "k-1"); err != nil || !ok {
		t.Fatalf("owner lookup = %v err=%v", ok, err)
	}
	if ok, err := s.Messages.HasClientKey(ctx, repo.ThreadOrder, o.ID, Staff(""), "k-2"); err != nil || ok {
		t.Fatalf("unknown key = %v err=%v", ok, err)
	}
	if ok, err := s.Messages.HasClientKey(ctx, repo.ThreadOrder, o.ID, Customer("Mallory"), "k-1"); !errors.Is(err, ErrAccessDenied) || ok {
		t.Fatalf("foreign caller = %v err=%v", ok, err)
	}
	if ok, err := s.Messages.HasClientKey(ctx, repo.ThreadOrder, "nope", Staff(""), "k-1"); !errors.Is(err, ErrOrderNotFound) || ok {
		t.Fatalf("missing order = %v err=%v", ok, err)
	}
}

func TestMessages_DegradeOnReadFailOnWrite(t *testing.T) {
	db := newServiceDB(t)
	healthy := wire(db, newExecutor(db))
	ctx := context.Background()
	n, _, _ := healthy.Negotiations.Create(ctx, buyInput("Ana", "1", "Oi"))

	// Every failure is classified as a dropped connection, then the pool is closed.
	alwaysTransient := func(error) resilience.Kind { return resilience.KindTransientConnection }
	broken := wire(db, resilience.New(2, 0, alwaysTransient, nil))
	sqlDB, _ := db.DB()
	_ = sqlDB.Close()

	ledger, err := broken.Messages.ListNegotiation(ctx, n.ID, Customer("Ana"))
	if err != nil {
		t.Fatalf("read must degrade, got %v", err)
	}
	if !ledger.Degraded || ledger.Messages == nil || len(ledger.Messages) != 0 {
		t.Fatalf("expected empty degraded ledger, got %+v", ledger)
	}
	ol, err := broken.Messages.ListOrder(ctx, "any", Customer("Ana"))
	if err != nil || !ol.Degraded {
		t.Fatalf("order read must degrade: %+v err=%v", ol, err)
	}

	if _, _, err := broken.Messages.AppendNegotiation(ctx, n.ID, Customer("Ana"), "hello", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("write must fail with ErrUnavailable, got %v", err)
	}
}

func TestMessages_VersionChangesOnAppend(t *testing.T) {
	s := newServices(t)
	ctx := context.Background()
	n, _, _ := s.Negotiations.Create(ctx, buyInput("Ana", "1", ""))

	v0, err := s.Messages.Version(ctx, repo.ThreadNegotiation, n.ID, Customer("Ana"))
	if err != nil || v0.Count != 0 || v0.Status != "OPEN" {
		t.Fatalf("v0: %+v err=%v", v0, err)
	}
	_, _, _ = s.Messages.AppendNegotiation(ctx, n.ID, Customer("Ana"), "Oi", "")
	v1, _ := s.Messages.Version(ctx, repo.ThreadNegotiation, n.ID, Customer("Ana"))
	if v1.Count != 1 || v1.Status != "IN_PROGRESS" || v1.MaxID == 0 {
		t.Fatalf("v1: %+v", v1)
	}
	if _, err := s.Messages.Version(ctx, repo.ThreadNegotiation, n.ID, Customer("Bia")); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if err := s.Messages.Authorize(ctx, repo.ThreadKind("x"), n.ID, Staff("")); err == nil {
		t.Fatalf("unknown kind must fail")
	}
}
