/*
service.go - Ledger command surface

PURPOSE:
  Service is the single entry point for everything that changes money.
  Each exported method is one command: it validates its input, locks the
  accounts it touches, applies every row mutation and invariant
  recomputation as one atomic unit, then publishes domain events.

COMMAND FLOW:
  ┌──────────────────────────────────────────────────────────────────┐
  │                                                                  │
  │  validate ──▶ lock accounts ──▶ WithTx / journal ──▶ publish     │
  │  (no writes)   (sorted, keyed)   (all-or-nothing)    (best-effort)│
  │                                                                  │
  └──────────────────────────────────────────────────────────────────┘

CONCURRENCY:
  Balance adjustments on the same account serialize on a keyed mutex.
  Commands on disjoint accounts run in parallel (subject to the store).
  Reads never lock and never see a half-applied command.

ATOMICITY:
  With a TxStore the command runs inside WithTx. Without one, a journal
  records inverse writes and replays them when the command fails. Either
  way a failure after the first write surfaces as a PartialFailureError
  that still unwraps to the root cause.

SEE ALSO:
  - balance.go: Balance Invariant Engine
  - linker.go: Disposal and liability composites
  - reconcile.go: Reconciliation workflow
  - category.go: Category integrity and cascades
  - budget.go: Budget roll-up
*/
package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/gookit/validate"
	"github.com/rs/zerolog"
)

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store  Store
	org    OrgID
	locks  *KeyedLocker
	events Publisher
	log    zerolog.Logger
	now    func() time.Time
	newID  func() string
}

type Option func(*Service)

// WithPublisher routes domain events to p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides the time source used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides row id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

// WithLocker shares a KeyedLocker between services scoped to the same store.
func WithLocker(l *KeyedLocker) Option {
	return func(s *Service) { s.locks = l }
}

// NewService returns a Service writing rows for org into store.
func NewService(store Store, org OrgID, opts ...Option) *Service {
	s := &Service{
		store:  store,
		org:    org,
		locks:  NewKeyedLocker(),
		events: nopPublisher{},
		log:    zerolog.Nop(),
		now:    time.Now,
		newID:  NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Org returns the organization this service writes for.
func (s *Service) Org() OrgID { return s.org }

// Store returns the underlying store for read-only callers.
func (s *Service) Store() Store { return s.store }

// =============================================================================
// COMMAND EXECUTION
// =============================================================================

// lockResolver returns the lock keys a command needs (accounts, and the
// liabilities or budget categories it rewrites). It is called before and
// after locking; the command proceeds once both answers agree.
type lockResolver func(ctx context.Context) ([]string, error)

func fixedKeys(keys ...string) lockResolver {
	return func(context.Context) ([]string, error) { return keys, nil }
}

// allAccountKeys locks every account of the organization. Used by commands
// whose footprint is only known after reading many rows.
func (s *Service) allAccountKeys(ctx context.Context) ([]string, error) {
	accounts, err := s.store.ListAccounts(ctx, s.org)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(accounts)+1)
	for _, a := range accounts {
		keys = append(keys, accountKey(a.ID))
	}
	return append(keys, orgKey(s.org)), nil
}

// lock acquires the keyed locks, re-resolving until the key set is stable
// under the lock.
func (s *Service) lock(ctx context.Context, resolve lockResolver) (func(), error) {
	for {
		keys, err := resolve(ctx)
		if err != nil {
			return nil, err
		}
		unlock := s.locks.Lock(keys...)
		again, err := resolve(ctx)
		if err != nil {
			unlock()
			return nil, err
		}
		if sameKeys(keys, again) {
			return unlock, nil
		}
		unlock()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// run executes fn as one locked, atomic command.
func (s *Service) run(ctx context.Context, name string, resolve lockResolver, fn func(st Store) error) error {
	unlock, err := s.lock(ctx, resolve)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.atomically(ctx, name, fn); err != nil {
		s.log.Debug().Err(err).Str("command", name).Msg("command rejected")
		return err
	}
	s.log.Debug().Str("command", name).Str("org", string(s.org)).Msg("command committed")
	return nil
}

func (s *Service) atomically(ctx context.Context, name string, fn func(st Store) error) error {
	body := func(j *journal) error {
		if err := fn(j); err != nil {
			if j.writes > 0 {
				return &PartialFailureError{Step: name, Err: err}
			}
			return err
		}
		// A command whose deadline passed mid-flight must not commit.
		return ctx.Err()
	}

	if tx, ok := s.store.(TxStore); ok {
		return tx.WithTx(ctx, func(st Store) error {
			return body(&journal{Store: st})
		})
	}

	j := &journal{Store: s.store, compensate: true}
	if err := body(j); err != nil {
		if rbErr := j.rollback(context.WithoutCancel(ctx)); rbErr != nil {
			s.log.Error().Err(rbErr).Str("command", name).Msg("compensating rollback failed")
			return &PartialFailureError{Step: name + " (compensation incomplete)", Err: err}
		}
		return err
	}
	return nil
}

func (s *Service) publish(ctx context.Context, events ...Event) {
	for _, e := range events {
		if err := s.events.Publish(ctx, e); err != nil {
			s.log.Warn().Err(err).Str("event", e.EventName()).Msg("event publication failed")
		}
	}
}

func (s *Service) stamp() time.Time {
	return s.now().UTC()
}

// =============================================================================
// VALIDATION
// =============================================================================

// checkCommand applies the `validate` struct tags of a command.
func checkCommand(cmd any) error {
	v := validate.Struct(cmd)
	if v.Validate() {
		return nil
	}
	all := v.Errors.All()
	fields := make([]string, 0, len(all))
	for f := range all {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	if len(fields) == 0 {
		return &ValidationError{Message: v.Errors.One()}
	}
	msgs := all[fields[0]]
	rules := make([]string, 0, len(msgs))
	for r := range msgs {
		rules = append(rules, r)
	}
	sort.Strings(rules)
	return &ValidationError{Field: fields[0], Message: msgs[rules[0]]}
}

func sameKeys(a, b []string) bool {
	set := func(keys []string) map[string]bool {
		m := make(map[string]bool, len(keys))
		for _, k := range keys {
			m[k] = true
		}
		return m
	}
	sa, sb := set(a), set(b)
	if len(sa) != len(sb) {
		return false
	}
	for k := range sa {
		if !sb[k] {
			return false
		}
	}
	return true
}
