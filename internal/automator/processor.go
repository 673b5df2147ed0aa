package automator

import (
	"context"

	"github.com/signalsfoundry/commensal-automator/internal/logging"
	"github.com/signalsfoundry/commensal-automator/model"
)

// ProcessRequest describes the recordings that just ended.
type ProcessRequest struct {
	Instances []model.Instance
	Reason    string
}

// Processor runs post-recording processing. It is invoked synchronously on
// the dispatcher goroutine and must tolerate repeated requests for the same
// instances.
type Processor interface {
	Process(ctx context.Context, req ProcessRequest) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, req ProcessRequest) error

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, req ProcessRequest) error { return f(ctx, req) }

// LogProcessor records that processing would run.
type LogProcessor struct {
	Log logging.Logger
}

// Process logs the request.
func (p LogProcessor) Process(ctx context.Context, req ProcessRequest) error {
	log := p.Log
	if log == nil {
		log = logging.Noop()
	}
	names := make([]string, len(req.Instances))
	for i, inst := range req.Instances {
		names[i] = string(inst)
	}
	log.Info(ctx, "processing recordings",
		logging.Strings(logging.FieldInstance, names),
		logging.String("reason", req.Reason),
	)
	return nil
}
