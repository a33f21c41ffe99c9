package tools

import (
	"github.com/ChamsBouzaiene/ponder/internal/engine"
	"github.com/ChamsBouzaiene/ponder/internal/sandbox"
)

// Options selects which builtin tools get registered. Tools whose
// configuration is absent are simply left out of the registry.
type Options struct {
	Sandbox      *sandbox.Manager // enables run_code
	Web          *WebSearchConfig // enables find_datapoint_on_web
	WolframAppID string           // enables wolfram
}

// NewRegistry assembles the builtin tool registry. The calculator is always
// available; everything else depends on Options.
func NewRegistry(opts Options) engine.ToolRegistry {
	reg := engine.ToolRegistry{}
	reg.Register(Calculator())

	if opts.Sandbox != nil {
		reg.Register(RunCode(opts.Sandbox))
	}
	if opts.Web != nil && opts.Web.APIKey != "" {
		reg.Register(WebSearch(*opts.Web))
	}
	if opts.WolframAppID != "" {
		reg.Register(Wolfram(opts.WolframAppID))
	}
	return reg
}
