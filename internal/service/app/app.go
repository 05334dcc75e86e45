package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"secure_drop/internal/model"
	"secure_drop/internal/utils/log"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

const (
	pageSend    = "send"
	pageReceive = "receive"

	labelRecipient = "Recipient"
	labelMessage   = "Message"
	labelTTL       = "TTL (minutes)"
	labelIdentity  = "Identity"
)

var errMissingInput = errors.New("recipient and message are required")

type (
	App struct {
		app   *tview.Application
		pages *tview.Pages

		sendForm  *tview.Form
		sendInfo  *tview.TextView
		countdown *tview.TextView

		recvForm *tview.Form
		recvInfo *tview.TextView
		output   *tview.TextView

		api      *Client
		identity string

		mu          sync.Mutex
		stopWatch   context.CancelFunc
		requestTime time.Duration
	}
)

func NewApp(api *Client, identity string) *App {
	return &App{
		app:         tview.NewApplication(),
		api:         api,
		identity:    identity,
		requestTime: 30 * time.Second,
	}
}

// Run makes sure the identity has a key pair, then blocks in the UI loop.
func (c *App) Run(ctx context.Context) error {
	if c.identity != "" {
		if _, err := c.api.EnsureKeys(ctx, c.identity); err != nil {
			return fmt.Errorf("ensure keys for %s: %w", c.identity, err)
		}
	}
	return c.renderUI(ctx)
}

func (c *App) Stop() {
	c.cancelWatch()
	c.app.Stop()
}

// blocking function
func (c *App) renderUI(ctx context.Context) error {
	c.sendInfo = tview.NewTextView().SetDynamicColors(true)
	c.countdown = tview.NewTextView().SetDynamicColors(true)
	c.countdown.SetBorder(true).SetTitle(" Expires in ")

	c.sendForm = tview.NewForm().
		AddInputField(labelRecipient, "", 32, nil, nil).
		AddTextArea(labelMessage, "", 0, 5, 0, nil).
		AddInputField(labelTTL, "", 8, tview.InputFieldFloat, nil)
	c.sendForm.AddButton("Send", func() { go c.submitSend(ctx) })
	c.sendForm.SetBorder(true).SetTitle(" Send (F2: receive) ")

	sendPage := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.sendForm, 0, 1, true).
		AddItem(c.sendInfo, 2, 0, false).
		AddItem(c.countdown, 3, 0, false)

	c.recvInfo = tview.NewTextView().SetDynamicColors(true)
	c.output = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWrap(true)
	c.output.SetBorder(true).SetTitle(" Message ")

	c.recvForm = tview.NewForm().
		AddInputField(labelIdentity, c.identity, 32, nil, nil)
	c.recvForm.AddButton("Receive", func() { go c.submitReceive(ctx) })
	c.recvForm.AddButton("Status", func() { go c.submitInspect(ctx) })
	c.recvForm.SetBorder(true).SetTitle(" Receive (F1: send) ")

	recvPage := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(c.recvForm, 7, 0, true).
		AddItem(c.recvInfo, 2, 0, false).
		AddItem(c.output, 0, 1, false)

	c.pages = tview.NewPages().
		AddPage(pageSend, sendPage, true, true).
		AddPage(pageReceive, recvPage, true, false)

	c.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF1:
			c.pages.SwitchToPage(pageSend)
			return nil
		case tcell.KeyF2:
			c.pages.SwitchToPage(pageReceive)
			return nil
		}
		return event
	})

	if err := c.app.SetRoot(c.pages, true).Run(); err != nil {
		log.Error("cannot init app", zap.Error(err))
		return err
	}
	return nil
}

func (c *App) inputText(form *tview.Form, label string) string {
	switch item := form.GetFormItemByLabel(label).(type) {
	case *tview.InputField:
		return item.GetText()
	case *tview.TextArea:
		return item.GetText()
	}
	return ""
}

func (c *App) submitSend(ctx context.Context) {
	var recipient, text, ttl string
	done := make(chan struct{})
	c.app.QueueUpdate(func() {
		recipient = c.inputText(c.sendForm, labelRecipient)
		text = c.inputText(c.sendForm, labelMessage)
		ttl = c.inputText(c.sendForm, labelTTL)
		close(done)
	})
	<-done

	recipient, text, ttlMinutes, err := parseSendInput(recipient, text, ttl)
	if err != nil {
		c.showInfo(c.sendInfo, "[red]"+tview.Escape(err.Error()))
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTime)
	defer cancel()
	receipt, err := c.api.Send(reqCtx, recipient, text, ttlMinutes)
	if err != nil {
		log.Error("send message failed", zap.String("recipient", recipient), zap.Error(err))
		c.showInfo(c.sendInfo, "[red]send failed: "+tview.Escape(err.Error()))
		return
	}

	note := ""
	if receipt.Replaced {
		note = " (replaced an unread message)"
	}
	c.app.QueueUpdateDraw(func() {
		c.sendInfo.SetText(fmt.Sprintf("[green]Sent to %s%s", tview.Escape(recipient), note))
		if ta, ok := c.sendForm.GetFormItemByLabel(labelMessage).(*tview.TextArea); ok {
			ta.SetText("", false)
		}
	})
	c.watch(ctx, recipient)
}

func (c *App) submitReceive(ctx context.Context) {
	id := c.readIdentity()
	if id == "" {
		c.showInfo(c.recvInfo, "[red]identity is required")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTime)
	defer cancel()
	got, err := c.api.Receive(reqCtx, id)
	if err != nil {
		log.Error("receive message failed", zap.String("recipient", id), zap.Error(err))
		c.showInfo(c.recvInfo, "[red]receive failed: "+tview.Escape(err.Error()))
		return
	}

	c.app.QueueUpdateDraw(func() {
		c.recvInfo.SetText(receiveSummary(got))
		c.output.SetText(tview.Escape(got.Text))
	})
}

func (c *App) submitInspect(ctx context.Context) {
	id := c.readIdentity()
	if id == "" {
		c.showInfo(c.recvInfo, "[red]identity is required")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTime)
	defer cancel()
	view, err := c.api.Inspect(reqCtx, id)
	if err != nil {
		c.showInfo(c.recvInfo, "[red]status failed: "+tview.Escape(err.Error()))
		return
	}
	c.showInfo(c.recvInfo, formatCountdown(view))
}

func (c *App) readIdentity() string {
	var id string
	done := make(chan struct{})
	c.app.QueueUpdate(func() {
		id = strings.TrimSpace(c.inputText(c.recvForm, labelIdentity))
		close(done)
	})
	<-done
	return id
}

// watch replaces any running countdown with one for recipient.
func (c *App) watch(ctx context.Context, recipient string) {
	watchCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.stopWatch != nil {
		c.stopWatch()
	}
	c.stopWatch = cancel
	c.mu.Unlock()

	go func() {
		err := c.api.Watch(watchCtx, recipient, func(view *model.SlotView) {
			c.showInfo(c.countdown, formatCountdown(view))
		})
		if err != nil {
			log.Debug("countdown stopped", zap.String("recipient", recipient), zap.Error(err))
		}
	}()
}

func (c *App) cancelWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
}

func (c *App) showInfo(tv *tview.TextView, text string) {
	c.app.QueueUpdateDraw(func() {
		tv.SetText(text)
	})
}

// parseSendInput trims the form values and turns an empty TTL into "use
// the server default".
func parseSendInput(recipient, text, ttl string) (string, string, *float64, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" || strings.TrimSpace(text) == "" {
		return "", "", nil, errMissingInput
	}
	if err := model.ValidateRecipientID(recipient); err != nil {
		return "", "", nil, err
	}

	ttl = strings.TrimSpace(ttl)
	if ttl == "" {
		return recipient, text, nil, nil
	}
	minutes, err := strconv.ParseFloat(ttl, 64)
	if err != nil || minutes < 0 {
		return "", "", nil, fmt.Errorf("ttl %q is not a non-negative number of minutes", ttl)
	}
	return recipient, text, &minutes, nil
}

func formatCountdown(view *model.SlotView) string {
	switch view.Status {
	case "pending":
		d := time.Duration(view.RemainingSeconds) * time.Second
		return fmt.Sprintf("[yellow]%s[-] waiting for %s", formatRemaining(d), tview.Escape(view.RecipientID))
	case "not_found":
		return fmt.Sprintf("[green]no message waiting for %s", tview.Escape(view.RecipientID))
	case "expired":
		return fmt.Sprintf("[red]message for %s expired", tview.Escape(view.RecipientID))
	default:
		return tview.Escape(view.Status)
	}
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	m := int(d / time.Minute)
	s := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%02d:%02d", m, s)
}

func receiveSummary(got *model.ReceiveResponse) string {
	switch got.Status {
	case "delivered":
		return "[green]message delivered and destroyed"
	case "expired":
		return "[red]message expired"
	default:
		return "[yellow]no message"
	}
}
