package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"harmony-core/internal/domain"
	"harmony-core/internal/infra/config"
	"harmony-core/internal/usecase/toolcall"
)

const askSystemPrompt = "You are a helpful assistant. Answer accurately and concisely."

// commonFlags are shared by ask and team.
type commonFlags struct {
	config string
	model  string
	stream bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.config, "config", defaultConfigPath(), "config file path")
	fs.StringVar(&c.model, "model", "", "model identifier")
	fs.BoolVar(&c.stream, "stream", false, "stream the final answer")
}

// prompt joins the positional arguments, or reads stdin when there are none.
func prompt(fs *flag.FlagSet, stdin io.Reader) (string, error) {
	text := strings.Join(fs.Args(), " ")
	if domain.IsBlank(text) && stdin != nil {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		text = string(b)
	}
	if domain.IsBlank(text) {
		return "", errors.New("prompt is required")
	}
	return strings.TrimSpace(text), nil
}

func setup(c commonFlags) (context.Context, context.CancelFunc, *app, error) {
	cfg, err := config.Load(c.config)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: %w", err)
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	a, err := newApp(ctx, cfg)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, cancel, a, nil
}

func runAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	var (
		common      commonFlags
		tools       = fs.String("tools", "", "comma-separated tools (default: all)")
		orchestrate = fs.Bool("orchestrate", false, "run the planner/researcher/critic pipeline")
	)
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	text, err := prompt(fs, os.Stdin)
	if err != nil {
		return err
	}

	ctx, cancel, a, err := setup(common)
	if err != nil {
		return err
	}
	defer cancel()
	defer a.Close()

	model := common.model
	if model == "" {
		model = a.cfg.LLM.DefaultModel
	}
	provider, err := a.models.Resolve(model)
	if err != nil {
		return err
	}
	msgs := []domain.Message{domain.SystemMessage(askSystemPrompt), domain.UserMessage(text)}

	if *orchestrate {
		if common.stream {
			ch, err := a.orchestrator.Stream(ctx, msgs, model, provider)
			if err != nil {
				return err
			}
			return printStream(os.Stdout, ch)
		}
		answer, err := a.orchestrator.Run(ctx, msgs, model, provider)
		if err != nil {
			return err
		}
		fmt.Println(answer)
		return nil
	}

	usage := &usageTally{}
	turn := toolcall.Turn{
		Messages:  withToolPrompt(msgs, parseTools(*tools)),
		Model:     model,
		LLM:       provider,
		Tools:     parseTools(*tools),
		ToolModel: a.cfg.Tools.ToolModel,
		Usage:     usage,
	}
	defer usage.report(os.Stderr)

	if common.stream {
		ch, err := domain.OpenStream(ctx, provider, model, turn.Messages)
		if err != nil {
			return err
		}
		return printStream(os.Stdout, a.protocol.Stream(ctx, turn, ch))
	}
	draft, err := domain.ChatText(ctx, provider, model, turn.Messages)
	if err != nil {
		return err
	}
	out := a.protocol.Handle(ctx, turn, draft)
	if out.UsedTool {
		a.log.Info("answer used tool", "tool", out.Tool)
	}
	fmt.Println(out.Text)
	return nil
}

func withToolPrompt(msgs []domain.Message, tools []string) []domain.Message {
	if len(tools) == 0 {
		return msgs
	}
	return domain.WithPrefix(msgs, domain.SystemMessage("Allowed tools: "+strings.Join(tools, ", ")+
		`. If you need a tool, respond ONLY with JSON: {"tool":"<key>","input":"..."}.`))
}

// printStream writes deltas as they arrive and ends with a newline.
func printStream(w io.Writer, ch <-chan domain.StreamDelta) error {
	for d := range ch {
		if _, err := io.WriteString(w, d.Content); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// usageTally sums billable tool-side model usage per model.
type usageTally struct {
	mu     sync.Mutex
	models []string
	tokens map[string][2]int
}

func (u *usageTally) Record(model string, prompt, completion int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.tokens == nil {
		u.tokens = make(map[string][2]int)
	}
	t, seen := u.tokens[model]
	if !seen {
		u.models = append(u.models, model)
	}
	u.tokens[model] = [2]int{t[0] + prompt, t[1] + completion}
}

func (u *usageTally) report(w io.Writer) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, m := range u.models {
		t := u.tokens[m]
		fmt.Fprintf(w, "tool usage: %s prompt=%d completion=%d\n", m, t[0], t[1])
	}
}

var _ domain.UsageRecorder = (*usageTally)(nil)
