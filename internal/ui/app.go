// Package ui provides terminal user interface components.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/whalewatch/engine/internal/metrics"
	"github.com/whalewatch/engine/internal/store"
)

const refreshInterval = 500 * time.Millisecond

// Source supplies the periodically refreshed state.
type Source interface {
	Snapshot() metrics.Snapshot
	Positions() []store.Position
	Markets() []store.MarketStats
}

// App is the main TUI application.
type App struct {
	app    *tview.Application
	layout *tview.Flex

	// Views
	marketOverview *MarketOverviewView
	alertFeed      *AlertFeedView
	whaleTrades    *LiveTradesView
	statsDashboard *StatsDashboardView
	positions      *PositionsView

	// Data
	tradeChan <-chan store.Trade
	alertChan <-chan store.Alert
	source    Source

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates a new TUI application. It stops when ctx is cancelled.
func NewApp(ctx context.Context, tradeChan <-chan store.Trade, alertChan <-chan store.Alert, source Source) *App {
	ctx, cancel := context.WithCancel(ctx)

	a := &App{
		app:            tview.NewApplication(),
		tradeChan:      tradeChan,
		alertChan:      alertChan,
		source:         source,
		ctx:            ctx,
		cancel:         cancel,
		marketOverview: NewMarketOverviewView(),
		alertFeed:      NewAlertFeedView(),
		whaleTrades:    NewLiveTradesView(),
		statsDashboard: NewStatsDashboardView(),
		positions:      NewPositionsView(),
	}

	a.setupLayout()
	a.setupKeyboard()
	return a
}

// setupLayout creates the 5-panel layout.
func (a *App) setupLayout() {
	// Top row: Markets | Alerts
	topRow := tview.NewFlex().
		AddItem(a.marketOverview.Widget(), 0, 1, false).
		AddItem(a.alertFeed.Widget(), 0, 2, false)

	// Bottom row: Stats | Whale trades
	bottomRow := tview.NewFlex().
		AddItem(a.statsDashboard.Widget(), 0, 1, false).
		AddItem(a.whaleTrades.Widget(), 0, 2, false)

	a.layout = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 2, false).
		AddItem(a.positions.Widget(), 0, 3, false).
		AddItem(bottomRow, 0, 2, false)

	a.app.SetRoot(a.layout, true)
}

func (a *App) setupKeyboard() {
	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			a.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				a.Stop()
				return nil
			case 'r', 'R':
				a.refresh()
				return nil
			}
		}
		return event
	})
}

// Run starts the TUI application and blocks until it stops.
func (a *App) Run() error {
	go a.processTrades()
	go a.processAlerts()
	go a.updateLoop()
	go func() {
		<-a.ctx.Done()
		a.app.Stop()
	}()

	if err := a.app.Run(); err != nil {
		return fmt.Errorf("app run failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the application.
func (a *App) Stop() {
	a.cancel()
}

// Done is closed once the application has been asked to stop.
func (a *App) Done() <-chan struct{} {
	return a.ctx.Done()
}

func (a *App) processTrades() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case trade, ok := <-a.tradeChan:
			if !ok {
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.whaleTrades.AddTrade(trade)
			})
		}
	}
}

func (a *App) processAlerts() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case alert, ok := <-a.alertChan:
			if !ok {
				return
			}
			a.app.QueueUpdateDraw(func() {
				a.alertFeed.AddAlert(alert)
			})
		}
	}
}

// updateLoop periodically refreshes views from the source.
func (a *App) updateLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.refresh()
		}
	}
}

func (a *App) refresh() {
	snapshot := a.source.Snapshot()
	positions := a.source.Positions()
	markets := a.source.Markets()

	a.app.QueueUpdateDraw(func() {
		a.statsDashboard.Update(snapshot)
		a.marketOverview.Update(markets, snapshot)
		a.positions.Update(positions)
	})
}
