package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ChamsBouzaiene/ponder/internal/engine"
	"github.com/ChamsBouzaiene/ponder/internal/ensemble"
)

func main() {
	// Load .env if present; explicit environment still wins.
	_ = godotenv.Load()

	task := flag.String("task", "", "Task to reason about")
	provider := flag.String("provider", "", "LLM provider (openai, anthropic, openrouter, deepseek, groq, ollama)")
	maxSteps := flag.Int("max-steps", 10, "Step budget before the session fails")
	reflect := flag.Bool("reflect", false, "Interleave self-review steps")
	image := flag.String("image", "", "Optional image URL attached to the task")
	memory := flag.Bool("memory", true, "Seed from and record to the chain store")
	exemplars := flag.Int("exemplars", 3, "How many similar chains to seed (0 disables)")
	plan := flag.Bool("plan", false, "Generate an upfront strategy before stepping")
	trace := flag.Bool("trace", false, "Print the full reasoning trace")

	beamWidth := flag.Int("beam", 0, "Beam width; >1 enables beam search")
	beamSamples := flag.Int("samples", 3, "Candidate steps per beam")

	agentsFile := flag.String("ensemble", "", "JSON agents file; runs a mixture of agents")
	coordModel := flag.String("coordinator", "", "Coordinator model for ensemble mode (defaults to the provider model)")

	flag.Parse()

	if *task == "" {
		fmt.Fprintln(os.Stderr, "usage: ponder -task \"...\" [-beam W] [-ensemble agents.json]")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := prepareRuntimeEnv(ctx, *provider, *memory)
	if err != nil {
		log.Fatalf("setup failed: %v", err)
	}
	defer env.Close()

	if *agentsFile != "" {
		if err := runEnsemble(ctx, env, *task, *agentsFile, *coordModel); err != nil {
			log.Fatalf("ensemble failed: %v", err)
		}
		return
	}

	sess := buildSession(env, sessionOptions{
		maxSteps:  *maxSteps,
		reflect:   *reflect,
		image:     *image,
		exemplars: *exemplars,
		plan:      *plan,
	})

	var res engine.Result
	if *beamWidth > 1 {
		res, err = sess.Search(ctx, *task, engine.BeamConfig{
			Width:    *beamWidth,
			Samples:  *beamSamples,
			MaxDepth: *maxSteps,
		})
	} else {
		res, err = sess.Run(ctx, *task)
	}
	if err != nil {
		log.Fatalf("session failed: %v", err)
	}

	printResult(res, *trace)
	if res.Status != engine.StatusDone {
		os.Exit(1)
	}
}

type sessionOptions struct {
	maxSteps  int
	reflect   bool
	image     string
	exemplars int
	plan      bool
}

func buildSession(env *runtimeEnv, opts sessionOptions) *engine.Session {
	sess := &engine.Session{
		LLM:      env.LLM,
		Registry: env.Registry,
		Hooks:    engine.Hooks{engine.NewLoggerHook(nil)},
		Scorer:   &engine.ModelScorer{LLM: env.LLM, Model: env.Model},
		Config: engine.SessionConfig{
			Model:         env.Model,
			MaxSteps:      opts.maxSteps,
			Reflection:    opts.reflect,
			Image:         opts.image,
			ExemplarCount: opts.exemplars,
		},
	}
	if env.Sandbox != nil {
		sess.Sandbox = env.Sandbox
	}
	if env.Store != nil {
		sess.Exemplars = env.Store
		sess.Recorder = env.Store
	}
	if opts.plan && env.Planner != nil {
		sess.Planner = env.Planner
	}
	return sess
}

func runEnsemble(ctx context.Context, env *runtimeEnv, task, agentsFile, coordModel string) error {
	agents, err := ensemble.LoadAgentsFile(agentsFile)
	if err != nil {
		return err
	}
	if coordModel == "" {
		coordModel = env.Model
	}

	runner := &ensemble.Runner{
		NewClient:        clientFactory,
		Registry:         env.Registry,
		Hooks:            engine.Hooks{engine.NewLoggerHook(nil)},
		Coordinator:      env.LLM,
		CoordinatorModel: coordModel,
	}
	if env.Sandbox != nil {
		runner.Sandbox = env.Sandbox
	}
	if env.Store != nil {
		runner.Exemplars = env.Store
	}

	res, err := runner.Run(ctx, task, agents)
	if err != nil {
		return err
	}

	for _, ar := range res.Agents {
		if ar.Err != nil {
			fmt.Printf("agent %s: FAILED (%v)\n", ar.Name, ar.Err)
			continue
		}
		fmt.Printf("agent %s: %d steps\n", ar.Name, ar.Steps)
	}
	fmt.Println()
	fmt.Println(res.Answer)

	if res.Failed {
		os.Exit(1)
	}
	return nil
}

func printResult(res engine.Result, withTrace bool) {
	if withTrace {
		for _, msg := range res.Trace {
			fmt.Printf("[%s] %s\n", msg.Role, msg.Content)
			for _, call := range msg.ToolCalls {
				fmt.Printf("  -> %s(%v)\n", call.Name, call.Args)
			}
		}
		fmt.Println()
	}

	switch {
	case res.Status == engine.StatusDone:
		fmt.Println(res.Answer)
	case res.Answer != "" && res.NonAuthoritative:
		fmt.Printf("no path finished; best attempt:\n%s\n", res.Answer)
	default:
		fmt.Fprintf(os.Stderr, "session %s: %v\n", res.Status, res.Err)
	}
	fmt.Fprintf(os.Stderr, "tokens: %d prompt / %d completion, %d steps\n",
		res.Usage.Prompt, res.Usage.Completion, len(res.Steps))
}
