// Package tui is the terminal client of a chatsyncd session.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/chatsync/internal/control"
	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/ui"
	"github.com/matheus3301/chatsync/internal/tui/views"
	"github.com/rivo/tview"
)

const (
	pageList   = "list"
	pageThread = "thread"
	pageInfo   = "info"
	pageSearch = "search"
	pageHelp   = "help"
)

// requestTimeout bounds each call to the daemon.
const requestTimeout = 10 * time.Second

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	pages    *ui.Pages
	vm       *model.ViewModel
	registry *keys.Registry
	flash    *ui.FlashModel

	session  *ui.SessionInfo
	logo     *ui.Logo
	menu     *ui.Menu
	crumbs   *ui.Crumbs
	flashBar *ui.FlashBar
	prompt   *ui.Prompt
	body     *tview.Flex

	list   *views.ConversationList
	thread *views.MessageThread
	info   *views.ConversationInfo
	search *views.SearchView
	help   *views.HelpView

	components  map[string]ui.Component
	sessionName string
	promptOpen  bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI for a session. actorID is the local user.
func NewApp(backend model.Backend, sessionName, actorID string, theme *ui.Theme) *App {
	ctx, cancel := context.WithCancel(context.Background())
	if theme == nil {
		theme = ui.DefaultTheme()
	}
	a := &App{
		app:         tview.NewApplication(),
		theme:       theme,
		pages:       ui.NewPages(),
		vm:          model.NewViewModel(backend),
		registry:    keys.NewRegistry(),
		flash:       ui.NewFlashModel(),
		session:     ui.NewSessionInfo(theme),
		logo:        ui.NewLogo(theme),
		menu:        ui.NewMenu(theme),
		crumbs:      ui.NewCrumbs(theme),
		flashBar:    ui.NewFlashBar(theme),
		prompt:      ui.NewPrompt(theme),
		list:        views.NewConversationList(theme),
		thread:      views.NewMessageThread(theme, actorID),
		info:        views.NewConversationInfo(theme),
		search:      views.NewSearchView(theme),
		help:        views.NewHelpView(theme),
		sessionName: sessionName,
		ctx:         ctx,
		cancel:      cancel,
	}
	a.components = map[string]ui.Component{
		pageList:   a.list,
		pageThread: a.thread,
		pageInfo:   a.info,
		pageSearch: a.search,
		pageHelp:   a.help,
	}

	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

// do runs fn off the UI goroutine with a request deadline and reports its
// error as a flash message.
func (a *App) do(what string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		if err := fn(ctx); err != nil && a.ctx.Err() == nil {
			var le *model.ListError
			if errors.As(err, &le) {
				a.flash.Warn(le.Error())
				return
			}
			a.flash.Err(what, err)
		}
	}()
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Key: tcell.KeyRune, Rune: 'q', Description: "Quit", Visible: true,
		Handler: a.Stop,
	})
	a.registry.AddGlobal("help", &keys.Action{
		Key: tcell.KeyRune, Rune: '?', Description: "Help", Visible: true,
		Handler: func() { a.show(pageHelp) },
	})
	a.registry.AddGlobal("command", &keys.Action{
		Key: tcell.KeyRune, Rune: ':', Description: "Command", Visible: true,
		Handler: func() { a.openPrompt(ui.PromptCommand) },
	})
	a.registry.AddGlobal("search", &keys.Action{
		Key: tcell.KeyRune, Rune: 's', Description: "Search", Visible: true,
		Handler: func() { a.show(pageSearch) },
	})

	a.registry.AddView(pageList, "filter", &keys.Action{
		Key: tcell.KeyRune, Rune: '/', Description: "Filter",
		Handler: func() { a.openPrompt(ui.PromptFilter) },
	})
	a.registry.AddView(pageList, "refresh", &keys.Action{
		Key: tcell.KeyRune, Rune: 'r', Description: "Refresh",
		Handler: a.refresh,
	})
	a.registry.AddView(pageList, "clear", &keys.Action{
		Key: tcell.KeyRune, Rune: '0',
		Handler: a.list.ClearFilter,
	})
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageList, fmt.Sprintf("jump%d", n), &keys.Action{
			Key: tcell.KeyRune, Rune: rune('0' + n),
			Handler: func() {
				if id := a.list.ConversationByIndex(n); id != "" {
					a.openConversation(id)
				}
			},
		})
	}

	a.registry.AddView(pageThread, "compose", &keys.Action{
		Key: tcell.KeyRune, Rune: 'i',
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddView(pageThread, "older", &keys.Action{
		Key: tcell.KeyRune, Rune: 'o',
		Handler: func() { a.do("load older", a.vm.Older) },
	})
	a.registry.AddView(pageThread, "retry", &keys.Action{
		Key: tcell.KeyRune, Rune: 'R',
		Handler: a.retryFailed,
	})
	a.registry.AddView(pageThread, "discard", &keys.Action{
		Key: tcell.KeyRune, Rune: 'D',
		Handler: a.discardFailed,
	})
	a.registry.AddView(pageThread, "details", &keys.Action{
		Key: tcell.KeyRune, Rune: 'd',
		Handler: func() {
			a.renderInfo()
			a.show(pageInfo)
		},
	})
}

func (a *App) setupCallbacks() {
	a.pages.SetOnChange(func(stack []string) {
		names := make([]string, 0, len(stack))
		for _, p := range stack {
			names = append(names, a.components[p].Name())
		}
		a.crumbs.Update(names)
		top := stack[len(stack)-1]
		a.menu.Update(append(a.components[top].Hints(), a.registry.Hints(top)...))
	})

	a.list.SetSelectedFunc(func(row, _ int) {
		if id := a.list.ConversationByIndex(row); id != "" {
			a.openConversation(id)
		}
	})
	a.list.SetOnlineFunc(a.vm.IsOnline)

	a.thread.SetOnSend(func(text string) {
		a.do("send", func(ctx context.Context) error {
			res, err := a.vm.Send(ctx, text)
			if err != nil {
				return err
			}
			if res.Route == "none" {
				a.flash.Warn("Message not delivered: R to retry, D to discard")
			}
			return nil
		})
	})
	a.thread.SetOnTyping(func(typing bool) {
		a.do("typing", func(ctx context.Context) error { return a.vm.SetTyping(ctx, typing) })
	})

	a.search.SetOnQuery(a.searchNow)
	a.search.SetOnOpen(a.openConversation)
	a.search.SetNameFunc(func(id string) string {
		if c, ok := a.vm.Conversation(id); ok && c.DisplayName != "" {
			return c.DisplayName
		}
		return id
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.closePrompt()
		if mode == ui.PromptFilter {
			a.list.SetFilter(text)
			return
		}
		a.runCommand(ParseCommand(text))
	})
	a.prompt.SetOnCancel(a.closePrompt)
}

func (a *App) setupLayout() {
	a.pages.AddPage(pageList, a.list, true, false)
	a.pages.AddPage(pageThread, a.thread, true, false)
	a.pages.AddPage(pageInfo, a.info, true, false)
	a.pages.AddPage(pageSearch, a.search, true, false)
	a.pages.AddPage(pageHelp, a.help, true, false)

	header := tview.NewFlex().
		AddItem(a.session, 32, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(a.logo, 16, 0, false)

	a.body = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 7, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.body, true)
	a.pages.Reset(pageList)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		current := a.pages.Current()

		if event.Key() == tcell.KeyEscape {
			if a.promptOpen {
				return event
			}
			if a.app.GetFocus() == a.thread.Composer() {
				a.app.SetFocus(a.thread.Messages())
				return nil
			}
			a.back()
			return nil
		}

		// Text inputs get every other key.
		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			return event
		}

		if a.registry.HandleEvent(current, event) {
			return nil
		}
		return event
	})
}

func (a *App) show(page string) {
	a.pages.Push(page)
	a.app.SetFocus(a.components[page].FocusTarget())
}

func (a *App) back() {
	switch a.pages.Pop() {
	case "":
		return
	case pageThread:
		a.do("close", a.vm.Close)
	}
	a.app.SetFocus(a.components[a.pages.Current()].FocusTarget())
}

func (a *App) openPrompt(mode ui.PromptMode) {
	if a.promptOpen {
		return
	}
	a.promptOpen = true
	a.prompt.Activate(mode)
	a.body.AddItem(a.prompt, 3, 0, true)
	a.app.SetFocus(a.prompt)
}

func (a *App) closePrompt() {
	if !a.promptOpen {
		return
	}
	a.promptOpen = false
	a.body.RemoveItem(a.prompt)
	a.app.SetFocus(a.components[a.pages.Current()].FocusTarget())
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.Stop()
	case "help":
		a.show(pageHelp)
	case "search":
		a.show(pageSearch)
		if cmd.Args != "" {
			a.search.SetQuery(cmd.Args)
			a.searchNow(cmd.Args)
		}
	case "open":
		if id := a.findConversation(cmd.Args); id != "" {
			a.openConversation(id)
		} else {
			a.flash.Warn("No conversation matches " + cmd.Args)
		}
	case "new":
		if cmd.Args == "" {
			a.flash.Warn("usage: new <user-id>")
			return
		}
		a.do("create", func(ctx context.Context) error {
			res, err := a.vm.Create(ctx, cmd.Args)
			if err != nil {
				return err
			}
			a.app.QueueUpdateDraw(func() { a.openConversation(res.Conversation.ID) })
			return nil
		})
	case "read":
		a.do("mark read", a.vm.MarkRead)
	case "refresh":
		a.refresh()
	default:
		a.flash.Warn("Unknown command: " + cmd.Name)
	}
}

func (a *App) searchNow(q string) {
	a.do("search", func(ctx context.Context) error {
		results, err := a.vm.Search(ctx, q)
		if err != nil {
			return err
		}
		a.app.QueueUpdateDraw(func() {
			a.search.Update(results)
			if len(results) == 0 {
				a.flash.Info("No matches for " + q)
				return
			}
			a.app.SetFocus(a.search.Results())
		})
		return nil
	})
}

// findConversation resolves an id or a case-insensitive name prefix.
func (a *App) findConversation(query string) string {
	if query == "" {
		return a.list.SelectedConversation()
	}
	q := strings.ToLower(query)
	for _, c := range a.vm.Conversations() {
		if c.ID == query {
			return c.ID
		}
	}
	for _, c := range a.vm.Conversations() {
		if strings.HasPrefix(strings.ToLower(c.DisplayName), q) {
			return c.ID
		}
	}
	return ""
}

func (a *App) openConversation(id string) {
	title := id
	if c, ok := a.vm.Conversation(id); ok && c.DisplayName != "" {
		title = c.DisplayName
	}
	if a.vm.Active() != "" && a.vm.Active() != id {
		a.do("close", a.vm.Close)
	}
	a.thread.SetConversation(title)
	a.show(pageThread)
	a.do("open", func(ctx context.Context) error {
		if err := a.vm.Open(ctx, id); err != nil {
			return err
		}
		return a.vm.MarkRead(ctx)
	})
}

func (a *App) refresh() {
	a.do("refresh", func(ctx context.Context) error {
		_, err := a.vm.LoadConversations(ctx, true)
		if err == nil {
			a.flash.Info("Conversations refreshed")
		}
		return err
	})
}

func (a *App) retryFailed() {
	a.do("retry", func(ctx context.Context) error {
		res, err := a.vm.RetryLastFailed(ctx)
		switch {
		case err != nil:
			return err
		case res == nil:
			a.flash.Info("Nothing to retry")
		case res.Route == "none":
			a.flash.Warn("Still not delivered")
		default:
			a.flash.Info("Delivered via " + res.Route)
		}
		return nil
	})
}

func (a *App) discardFailed() {
	a.do("discard", func(ctx context.Context) error {
		removed, err := a.vm.DiscardLastFailed(ctx)
		if err == nil && !removed {
			a.flash.Info("Nothing to discard")
		}
		return err
	})
}

func (a *App) renderInfo() {
	id := a.vm.Active()
	c, ok := a.vm.Conversation(id)
	if !ok {
		c = control.Conversation{ID: id, DisplayName: id}
	}
	a.info.Update(c, a.vm.IsOnline(c.CounterpartID), a.vm.TypingUsers(id))
}

func (a *App) renderStatus() {
	st := a.vm.Status()
	if st == nil {
		a.session.Update(&ui.SessionData{Session: a.sessionName, State: "UNKNOWN"})
		a.logo.SetState("")
		return
	}
	a.session.Update(&ui.SessionData{
		Session:     st.Session,
		Actor:       st.ActorID,
		State:       st.State,
		Rooms:       len(st.Rooms),
		Unread:      st.TotalUnread,
		OnlineCount: len(st.Online),
	})
	a.logo.SetState(st.State)
	a.thread.SetTyping(a.vm.TypingUsers(a.vm.Active()))
}

// redraw applies a view model change on the UI goroutine.
func (a *App) redraw(c model.Change) {
	if c.Has(model.ChangeStatus) {
		a.renderStatus()
		a.list.Update(a.vm.Conversations(), a.vm.ListReason())
		if a.pages.Current() == pageInfo {
			a.renderInfo()
		}
	}
	if c.Has(model.ChangeConversations) {
		a.list.Update(a.vm.Conversations(), a.vm.ListReason())
	}
	if c.Has(model.ChangeMessages) {
		a.thread.Update(a.vm.History())
	}
}

func (a *App) loop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case c := <-a.vm.Changes():
			a.app.QueueUpdateDraw(func() { a.redraw(c) })
		case msg := <-a.flash.Watch():
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(&msg) })
		case <-ticker.C:
			// Expire the flash bar.
			a.app.QueueUpdateDraw(func() { a.flashBar.Update(a.flash.GetMessage()) })
		}
	}
}

// Run loads the initial state, follows the daemon's events and blocks until
// the user quits.
func (a *App) Run() error {
	go a.loop()
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		if err := a.vm.LoadStatus(ctx); err != nil {
			a.flash.Err("status", err)
		}
		if reason, err := a.vm.LoadConversations(ctx, false); err != nil {
			a.flash.Err("conversations", err)
		} else if reason != "" {
			a.flash.Warn("Showing " + reason + " conversations")
		}
		if err := a.vm.Watch(a.ctx); err != nil {
			a.flash.Err("event stream", err)
			return
		}
		if a.ctx.Err() == nil {
			a.flash.Warn("Daemon event stream closed")
		}
	}()
	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
