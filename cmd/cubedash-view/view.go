package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	explorerclient "github.com/cubedash/explorer/client"
)

// View is the product summary browser.
type View struct {
	app    *tview.Application
	table  *tview.Table
	status *tview.TextView

	client *explorerclient.Client

	baseCtx  context.Context
	stopOnce sync.Once
}

func NewView(ctx context.Context, c *explorerclient.Client) *View {
	v := &View{
		app:     tview.NewApplication(),
		table:   tview.NewTable(),
		status:  tview.NewTextView().SetDynamicColors(true),
		client:  c,
		baseCtx: ctx,
	}

	v.table.SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)
	v.table.SetBorder(true).SetTitle(" Products (r: reload, q: quit) ")

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(v.table, 0, 1, true).
		AddItem(v.status, 1, 0, false)

	v.app.SetRoot(layout, true)
	v.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'q':
			v.Stop()
			return nil
		case 'r':
			go v.reload()
			return nil
		}
		return event
	})
	return v
}

// Run loads the product table and enters the event loop.
func (v *View) Run() error {
	go v.reload()
	return v.app.Run()
}

func (v *View) Stop() {
	v.stopOnce.Do(v.app.Stop)
}

func (v *View) reload() {
	ctx, cancel := context.WithTimeout(v.baseCtx, 30*time.Second)
	defer cancel()

	products, err := v.client.Products(ctx)
	v.app.QueueUpdateDraw(func() {
		if err != nil {
			v.status.SetText(fmt.Sprintf("[red]load failed: %v", err))
			return
		}
		v.render(products)
		v.status.SetText(fmt.Sprintf("%d products, loaded %s",
			len(products), time.Now().Format("15:04:05")))
	})
}

func (v *View) render(products []explorerclient.Product) {
	v.table.Clear()
	headers := []string{"Product", "Datasets", "Earliest", "Latest", "Last refresh"}
	for col, h := range headers {
		v.table.SetCell(0, col, tview.NewTableCell("[yellow]"+h).
			SetSelectable(false))
	}

	for row, p := range products {
		cells := []string{
			p.Name,
			fmt.Sprintf("%d", p.DatasetCount),
			formatDay(p.TimeEarliest),
			formatDay(p.TimeLatest),
			formatDay(p.LastRefresh),
		}
		for col, text := range cells {
			v.table.SetCell(row+1, col, tview.NewTableCell(text))
		}
	}
	if len(products) > 0 {
		v.table.Select(1, 0)
	}
}

func formatDay(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
