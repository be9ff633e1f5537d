package notify_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/ledger/store"
	"github.com/warp/ledger-engine/notify"
)

func waitFor(t *testing.T, ch <-chan ledger.Event) ledger.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("event was never delivered")
		return nil
	}
}

func TestBus_DeliversByName(t *testing.T) {
	// GIVEN: One subscriber for settlements and one for everything
	// WHEN: Publishing a disposal event
	// THEN: Only the catch-all subscriber receives it

	bus := notify.NewBus(8, zerolog.Nop())
	settled := make(chan ledger.Event, 1)
	all := make(chan ledger.Event, 1)
	bus.Subscribe("liability.settled", func(_ context.Context, e ledger.Event) error {
		settled <- e
		return nil
	})
	bus.Subscribe("", func(_ context.Context, e ledger.Event) error {
		all <- e
		return nil
	})
	require.NoError(t, bus.Start(context.Background(), 2))

	require.NoError(t, bus.Publish(context.Background(), ledger.AssetDisposedEvent{AssetID: "van"}))
	got := waitFor(t, all)
	assert.Equal(t, ledger.AssetID("van"), got.(ledger.AssetDisposedEvent).AssetID)

	require.NoError(t, bus.Stop(context.Background()))
	assert.Empty(t, settled)
	assert.Equal(t, notify.Stats{Published: 1, Delivered: 1}, bus.Stats())
}

func TestBus_RetriesThenGivesUp(t *testing.T) {
	buf := &bytes.Buffer{}
	bus := notify.NewBus(4, zerolog.New(buf))
	bus.Backoff = time.Millisecond
	bus.MaxRetries = 2

	attempts := 0
	flaky := make(chan ledger.Event, 1)
	bus.Subscribe("asset.disposed", func(_ context.Context, e ledger.Event) error {
		attempts++
		if attempts < 3 {
			return errors.New("smtp timeout")
		}
		flaky <- e
		return nil
	})
	bus.Subscribe("liability.settled", func(context.Context, ledger.Event) error {
		return errors.New("creditor endpoint gone")
	})
	require.NoError(t, bus.Start(context.Background(), 1))

	require.NoError(t, bus.Publish(context.Background(), ledger.AssetDisposedEvent{}))
	waitFor(t, flaky)
	require.NoError(t, bus.Publish(context.Background(), ledger.LiabilitySettled{}))
	require.NoError(t, bus.Stop(context.Background()))

	assert.Equal(t, 3, attempts)
	assert.Equal(t, notify.Stats{Published: 2, Delivered: 1, Failed: 1}, bus.Stats())
	assert.Contains(t, buf.String(), "creditor endpoint gone")
}

func TestBus_StopDrainsAndRejects(t *testing.T) {
	bus := notify.NewBus(4, zerolog.Nop())
	got := make(chan ledger.Event, 4)
	bus.Subscribe("", func(_ context.Context, e ledger.Event) error {
		got <- e
		return nil
	})

	// Queued before any worker runs.
	for i := 0; i < 3; i++ {
		require.NoError(t, bus.Publish(context.Background(), ledger.ContributionRecorded{}))
	}
	require.NoError(t, bus.Start(context.Background(), 1))
	require.NoError(t, bus.Stop(context.Background()))

	assert.Len(t, got, 3)
	assert.ErrorIs(t, bus.Publish(context.Background(), ledger.ContributionRecorded{}), notify.ErrClosed)
	assert.ErrorIs(t, bus.Start(context.Background(), 1), notify.ErrClosed)
	assert.NoError(t, bus.Stop(context.Background()))
}

func TestBus_PublishDropsWhenBufferFull(t *testing.T) {
	// GIVEN: A bus with room for one event and no running workers
	// WHEN: Two events are published
	// THEN: The second is dropped at once and counted as failed

	buf := &bytes.Buffer{}
	bus := notify.NewBus(1, zerolog.New(buf))

	require.NoError(t, bus.Publish(context.Background(), ledger.ContributionRecorded{}))
	assert.ErrorIs(t, bus.Publish(context.Background(), ledger.LiabilitySettled{}), notify.ErrBufferFull)

	assert.Equal(t, notify.Stats{Published: 1, Failed: 1}, bus.Stats())
	assert.Contains(t, buf.String(), "liability.settled")
}

func TestBus_FullBufferDoesNotHoldUpCommands(t *testing.T) {
	// GIVEN: A service publishing through a bus whose only slot is taken
	// WHEN: Two disposals commit
	// THEN: Both commands return promptly and the extra events are dropped

	bus := notify.NewBus(1, zerolog.Nop())
	require.NoError(t, bus.Publish(context.Background(), ledger.ContributionRecorded{}))

	ctx := context.Background()
	svc := ledger.NewService(store.NewTxMemory(), "org-1", ledger.WithPublisher(bus))
	a, err := svc.CreateAccount(ctx, ledger.CreateAccount{
		Name: "Main", Type: ledger.AccountBank, Currency: "KES",
		OpeningBalance: decimal.Zero, OpeningDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	for _, id := range []ledger.AssetID{"van", "pews"} {
		require.NoError(t, svc.SaveAsset(ctx, ledger.Asset{ID: id, Name: string(id), Status: ledger.AssetInUse}))
	}

	done := make(chan error, 1)
	go func() {
		for _, id := range []ledger.AssetID{"van", "pews"} {
			if _, err := svc.CreateDisposal(ctx, ledger.CreateDisposal{
				AssetID: id, AccountID: a.ID, Date: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Amount: decimal.RequireFromString("100"),
			}); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("commands blocked on a full event buffer")
	}
	assert.Equal(t, int64(2), bus.Stats().Failed)
}

func TestBus_AsServicePublisher(t *testing.T) {
	// GIVEN: A ledger service publishing through the bus
	// WHEN: An asset is disposed of
	// THEN: Subscribers receive AssetDisposedEvent after the command returns

	bus := notify.NewBus(8, zerolog.Nop())
	disposed := make(chan ledger.Event, 1)
	bus.Subscribe("asset.disposed", func(_ context.Context, e ledger.Event) error {
		disposed <- e
		return nil
	})
	buf := &bytes.Buffer{}
	bus.Subscribe("", notify.LogEvents(zerolog.New(buf)))
	require.NoError(t, bus.Start(context.Background(), 1))

	ctx := context.Background()
	svc := ledger.NewService(store.NewTxMemory(), "org-1", ledger.WithPublisher(bus))
	a, err := svc.CreateAccount(ctx, ledger.CreateAccount{
		Name: "Main", Type: ledger.AccountBank, Currency: "KES",
		OpeningBalance: decimal.Zero, OpeningDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, svc.SaveAsset(ctx, ledger.Asset{ID: "van", Name: "Van", Status: ledger.AssetInUse}))

	d, err := svc.CreateDisposal(ctx, ledger.CreateDisposal{
		AssetID: "van", AccountID: a.ID, Date: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Amount: decimal.RequireFromString("800"),
	})
	require.NoError(t, err)

	ev := waitFor(t, disposed).(ledger.AssetDisposedEvent)
	assert.Equal(t, d.ID, ev.DisposalID)
	assert.True(t, ev.Amount.Equal(decimal.RequireFromString("800")))

	require.NoError(t, bus.Stop(context.Background()))
	assert.Contains(t, buf.String(), `"asset_id":"van"`)
}
