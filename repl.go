package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/sahilm/fuzzy"

	"parley/capability"
	"parley/config"
	"parley/conversation"
	"parley/dispatch"
	"parley/mcp"
	"parley/model"
	"parley/storage"
	"parley/ui"
)

// repl is the line-oriented front end: plain lines are sent to the model,
// lines starting with / are commands.
type repl struct {
	cfg        *config.Config
	providers  map[string]model.Provider
	registry   *capability.Registry
	executor   *mcp.Executor
	sessions   *storage.SessionStorage
	search     *storage.SearchIndex
	persister  *storage.SessionPersister
	store      *conversation.Store
	controller *dispatch.Controller

	agent  string   // active agent name, empty for none
	tools  []string // tools offered to the model on every send
	images []string // attachments for the next send only

	in  io.Reader
	out io.Writer
}

var helpText = ui.FormatHelp(
	"/regen", "Regenerate the last reply",
	"/reset", "Clear the conversation",
	"/agent [name]", "Use an agent prompt for the next turns (no name clears it)",
	"/tools [a,b]", "Offer tools to the model (no argument lists them, - clears)",
	"/tools +name|-name", "Enable or disable one tool",
	"/image <url>", "Attach an image to the next message",
	"/model <query>", "Switch model by fuzzy name match",
	"/provider <id>", "Switch provider",
	"/default", "Save the current provider and model as the default",
	"/search <text>", "Search every session",
	"/sessions [query]", "List sessions",
	"/sessions rename <id> <name>", "Rename a session",
	"/sessions rm <id>", "Delete a session other than this one",
	"/copy", "Copy the last reply to the clipboard",
	"/export [path]", "Export this session as JSON",
	"/quit", "Exit",
)

func (r *repl) run(ctx context.Context) error {
	renderer := ui.NewRenderer(r.out)
	unsubscribe := r.store.Subscribe(renderer.Update)
	defer unsubscribe()

	r.printHistory()
	p, providerID := r.controller.Provider()
	fmt.Fprintf(r.out, "%s\n", ui.DimStyle.Render(fmt.Sprintf("%s · %s · /help for commands",
		config.ProviderDisplayName(providerID), p.GetDisplayName())))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(r.out, ui.UserStyle.Render("> "))

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(r.out)
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			r.send(ctx, renderer, line)
			continue
		}

		name, arg := parseCommand(line)
		if name == "quit" || name == "exit" || name == "q" {
			return nil
		}
		if err := r.command(ctx, renderer, name, arg); err != nil {
			fmt.Fprintln(r.out, ui.ErrorStyle.Render(err.Error()))
		}
	}
}

// parseCommand splits "/name rest of line" into its name and argument
func parseCommand(line string) (string, string) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "/")
	name, arg, _ := strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimSpace(arg)
}

func (r *repl) command(ctx context.Context, renderer *ui.Renderer, name, arg string) error {
	switch name {
	case "help", "h", "?":
		fmt.Fprintln(r.out, helpText)
	case "regen", "r":
		r.finish(renderer, r.controller.Regenerate(ctx))
	case "reset":
		return r.reset()
	case "agent":
		return r.setAgent(arg)
	case "tools":
		return r.setTools(arg)
	case "image":
		if arg == "" {
			return errors.New("usage: /image <url>")
		}
		r.images = append(r.images, arg)
		fmt.Fprintf(r.out, "%s\n", ui.DimStyle.Render(fmt.Sprintf("%d image(s) attached to the next message", len(r.images))))
	case "model":
		return r.switchModel(ctx, arg)
	case "provider":
		return r.switchProvider(ctx, arg)
	case "default":
		return r.saveDefault()
	case "search":
		return r.searchAll(arg)
	case "sessions":
		return r.sessionsCommand(arg)
	case "copy":
		return r.copyLast()
	case "export":
		return r.export(arg)
	default:
		return fmt.Errorf("unknown command /%s (try /help)", name)
	}
	return nil
}

func (r *repl) send(ctx context.Context, renderer *ui.Renderer, text string) {
	sub := dispatch.Submission{
		Text:   text,
		Images: r.images,
		Tools:  r.tools,
	}
	if r.agent != "" {
		sub.Agent, _ = r.cfg.AgentPrompt(r.agent)
	}

	err := r.controller.Send(ctx, sub)
	if model.KindOf(err) != model.ErrorKindValidation && !errors.Is(err, dispatch.ErrBusy) {
		r.images = nil
	}
	r.finish(renderer, err)
}

// finish closes the reply block and reports errors the conversation itself
// doesn't show
func (r *repl) finish(renderer *ui.Renderer, err error) {
	last := r.store.Last()
	if last.Role == model.RoleAssistant {
		renderer.Finish(last)
	}

	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrBusy):
		fmt.Fprintln(r.out, ui.DimStyle.Render("Still waiting for the previous reply"))
	case model.KindOf(err) == model.ErrorKindValidation:
		fmt.Fprintln(r.out, ui.ErrorStyle.Render(model.Diagnostic(err)))
	case model.KindOf(err) == "":
		fmt.Fprintln(r.out, ui.ErrorStyle.Render(err.Error()))
	}
}

func (r *repl) printHistory() {
	for _, msg := range r.store.List() {
		if msg.Role == model.RoleSystem {
			continue
		}
		fmt.Fprintln(r.out, ui.FormatMessage(msg))
	}
}

func (r *repl) reset() error {
	prompt := r.cfg.DefaultSystemPrompt
	if err := r.store.Reset(prompt); err != nil && !errors.Is(err, conversation.ErrPersist) {
		return err
	}
	r.images = nil
	fmt.Fprintln(r.out, ui.DimStyle.Render("Conversation cleared"))
	return nil
}

func (r *repl) setAgent(name string) error {
	if name == "" {
		r.agent = ""
		fmt.Fprintln(r.out, ui.DimStyle.Render("Agent cleared"))
		return nil
	}
	if _, ok := r.cfg.AgentPrompt(name); !ok {
		names := make([]string, 0, len(r.cfg.Agents))
		for n := range r.cfg.Agents {
			names = append(names, n)
		}
		sort.Strings(names)
		return fmt.Errorf("unknown agent %q (available: %s)", name, strings.Join(names, ", "))
	}
	r.agent = name
	fmt.Fprintln(r.out, ui.DimStyle.Render("Agent: "+name))
	return nil
}

func (r *repl) setTools(arg string) error {
	available := r.executor.Tools()
	if arg == "" {
		if len(available) == 0 {
			fmt.Fprintln(r.out, ui.DimStyle.Render("No tools available"))
			return nil
		}
		enabled := make(map[string]bool, len(r.tools))
		for _, t := range r.tools {
			enabled[t] = true
		}
		for _, spec := range available {
			mark := " "
			if enabled[spec.Name] {
				mark = "*"
			}
			fmt.Fprintf(r.out, " %s %s  %s\n", mark, spec.Name, ui.DimStyle.Render(spec.Description))
		}
		return nil
	}

	if len(arg) > 1 && (arg[0] == '+' || arg[0] == '-') {
		return r.toggleTool(arg[0] == '+', strings.TrimSpace(arg[1:]), available)
	}

	selected, err := selectTools(arg, available)
	if err != nil {
		return err
	}
	r.saveTools(func(s *storage.Session) { s.EnabledTools = selected })
	return nil
}

// toggleTool adds or removes one tool from the session's active set.
// Removing does not require the tool to still be offered by a server.
func (r *repl) toggleTool(enable bool, name string, available []model.ToolSpec) error {
	if !enable {
		r.saveTools(func(s *storage.Session) { s.DisableTool(name) })
		return nil
	}
	if _, err := selectTools(name, available); err != nil {
		return err
	}
	r.saveTools(func(s *storage.Session) { s.EnableTool(name) })
	return nil
}

func (r *repl) saveTools(fn func(*storage.Session)) {
	if err := r.persister.Update(fn); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("Failed to save enabled tools: %v", err)
	}
	r.tools = r.persister.Session().EnabledTools
	fmt.Fprintln(r.out, ui.DimStyle.Render(fmt.Sprintf("%d tool(s) enabled", len(r.tools))))
}

// selectTools parses a comma-separated tool list; "-" selects none
func selectTools(arg string, available []model.ToolSpec) ([]string, error) {
	if arg == "-" {
		return nil, nil
	}
	known := make(map[string]bool, len(available))
	for _, spec := range available {
		known[spec.Name] = true
	}

	var selected []string
	seen := make(map[string]bool)
	for _, name := range strings.Split(arg, ",") {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		if !known[name] {
			return nil, fmt.Errorf("unknown tool %q", name)
		}
		seen[name] = true
		selected = append(selected, name)
	}
	sort.Strings(selected)
	return selected, nil
}

type modelNames []model.ModelInfo

func (m modelNames) String(i int) string { return m[i].InternalName }
func (m modelNames) Len() int            { return len(m) }

// pickModel returns the best fuzzy match for query, preferring an exact id
func pickModel(models []model.ModelInfo, query string) (model.ModelInfo, bool) {
	for _, m := range models {
		if m.InternalName == query || m.Name == query {
			return m, true
		}
	}
	matches := fuzzy.FindFrom(query, modelNames(models))
	if len(matches) == 0 {
		return model.ModelInfo{}, false
	}
	return models[matches[0].Index], true
}

func (r *repl) switchModel(ctx context.Context, query string) error {
	p, providerID := r.controller.Provider()

	listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	models, err := p.ListModels(listCtx)
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	if query == "" {
		for _, m := range models {
			fmt.Fprintf(r.out, "  %s%s\n", m.InternalName, ui.DimStyle.Render(modelFlags(r.describe(m))))
		}
		return nil
	}

	m, ok := pickModel(models, query)
	if !ok {
		return fmt.Errorf("no %s model matches %q", providerID, query)
	}
	if r.controller.Busy() {
		return dispatch.ErrBusy
	}
	p.SetModel(m.InternalName)
	if err := r.persister.Update(func(s *storage.Session) { s.Model = m.InternalName }); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("Failed to save session model: %v", err)
	}
	fmt.Fprintln(r.out, ui.DimStyle.Render("Model: "+m.InternalName+modelFlags(r.describe(m))))
	return nil
}

// describe prefers the registry's descriptor, which carries configured
// overrides, over what the listing reports
func (r *repl) describe(m model.ModelInfo) capability.Descriptor {
	if d, ok := r.registry.Lookup(m.InternalName); ok {
		return d
	}
	return capability.FromModels([]model.ModelInfo{m})[0]
}

func modelFlags(d capability.Descriptor) string {
	var flags []string
	if d.SupportsTools {
		flags = append(flags, "tools")
	}
	if d.SupportsImages {
		flags = append(flags, "images")
	}
	if d.SupportsFiles {
		flags = append(flags, "files")
	}
	if len(flags) == 0 {
		return ""
	}
	return " [" + strings.Join(flags, ", ") + "]"
}

func (r *repl) switchProvider(ctx context.Context, id string) error {
	if id == "" {
		ids := make([]string, 0, len(r.providers))
		for pid := range r.providers {
			ids = append(ids, pid)
		}
		sort.Strings(ids)
		for _, pid := range ids {
			fmt.Fprintf(r.out, "  %s  %s\n", pid, ui.DimStyle.Render(config.ProviderDisplayName(pid)))
		}
		return nil
	}

	p, ok := r.providers[id]
	if !ok {
		return fmt.Errorf("provider %q is not enabled", id)
	}
	if r.controller.Busy() {
		return dispatch.ErrBusy
	}

	switchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := r.registry.Switch(switchCtx, id, p); err != nil {
		fmt.Fprintln(r.out, ui.DimStyle.Render("Using cached capabilities: "+err.Error()))
	}
	r.controller.SetProvider(p, id)
	if err := r.persister.Update(func(s *storage.Session) { s.Provider = id; s.Model = p.GetModel() }); err != nil && config.DebugLog != nil {
		config.DebugLog.Printf("Failed to save session provider: %v", err)
	}
	fmt.Fprintln(r.out, ui.DimStyle.Render(fmt.Sprintf("Provider: %s · %s", config.ProviderDisplayName(id), p.GetDisplayName())))
	return nil
}

func (r *repl) saveDefault() error {
	p, providerID := r.controller.Provider()
	dataDir := r.cfg.DataDir()

	userCfg, err := config.LoadUserConfig(dataDir)
	if err != nil {
		return err
	}
	userCfg.DefaultProvider = providerID
	userCfg.DefaultModel = p.GetModel()
	if err := config.SaveUserConfig(userCfg, dataDir); err != nil {
		return err
	}

	r.cfg.DefaultProvider = userCfg.DefaultProvider
	r.cfg.DefaultModel = userCfg.DefaultModel
	fmt.Fprintln(r.out, ui.DimStyle.Render(fmt.Sprintf("Default set to %s · %s", providerID, userCfg.DefaultModel)))
	return nil
}

func (r *repl) searchAll(query string) error {
	if query == "" {
		return errors.New("usage: /search <text>")
	}
	matches, err := r.search.SearchAllSessions(query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(matches) == 0 {
		fmt.Fprintln(r.out, ui.DimStyle.Render("No matches"))
		return nil
	}
	for _, m := range matches {
		fmt.Fprintf(r.out, "%s %s %s\n  %s\n",
			ui.HighlightStyle.Render(m.SessionName),
			ui.DimStyle.Render(m.Timestamp.Format("Jan 2 15:04")),
			ui.RoleLabel(m.Role),
			m.Preview)
	}
	return nil
}

func (r *repl) sessionsCommand(arg string) error {
	sub, rest, _ := strings.Cut(arg, " ")
	rest = strings.TrimSpace(rest)
	switch sub {
	case "rm":
		return r.deleteSession(rest)
	case "rename":
		id, name, _ := strings.Cut(rest, " ")
		return r.renameSession(id, strings.TrimSpace(name))
	}
	return r.listSessions(arg)
}

func (r *repl) deleteSession(id string) error {
	if id == "" {
		return errors.New("usage: /sessions rm <id>")
	}
	if id == r.persister.Session().ID {
		return errors.New("cannot delete the open session")
	}
	if err := r.sessions.Delete(id); err != nil {
		return err
	}
	fmt.Fprintln(r.out, ui.DimStyle.Render("Deleted session "+id))
	return nil
}

func (r *repl) renameSession(id, name string) error {
	if id == "" || name == "" {
		return errors.New("usage: /sessions rename <id> <name>")
	}
	if id == r.persister.Session().ID {
		if err := r.persister.Update(func(s *storage.Session) { s.Name = name }); err != nil {
			return fmt.Errorf("failed to rename session: %w", err)
		}
	} else if err := r.sessions.RenameSession(id, name); err != nil {
		return err
	}
	fmt.Fprintln(r.out, ui.DimStyle.Render(fmt.Sprintf("Renamed %s to %q", id, name)))
	return nil
}

func (r *repl) listSessions(query string) error {
	sessions, err := r.search.FindSessions(query)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	current := r.persister.Session().ID
	for _, s := range sessions {
		mark := " "
		if s.ID == current {
			mark = "*"
		}
		fmt.Fprintf(r.out, " %s %s  %s\n", mark, s.Name,
			ui.DimStyle.Render(fmt.Sprintf("%d messages · %s · %s", s.MessageCount, s.Model, s.ID)))
	}
	return nil
}

func (r *repl) copyLast() error {
	msgs := r.store.List()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			if err := clipboard.WriteAll(msgs[i].Text); err != nil {
				return fmt.Errorf("failed to copy: %w", err)
			}
			fmt.Fprintln(r.out, ui.DimStyle.Render("Copied last reply"))
			return nil
		}
	}
	return errors.New("no reply to copy")
}

func (r *repl) export(path string) error {
	session := r.persister.Session()
	if path == "" {
		path = storage.GenerateExportPath(session.Name)
	} else {
		path = config.ExpandPath(path)
	}
	if err := r.sessions.ExportToJSON(session.ID, path); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	fmt.Fprintln(r.out, ui.DimStyle.Render("Exported to "+path))
	return nil
}
