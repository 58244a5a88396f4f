package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.uber.org/zap"

	"github.com/ShayCichocki/missioncontrol/internal/config"
	"github.com/ShayCichocki/missioncontrol/pkg/models"
)

// APIEngine answers a prompt with a single Messages API call. The client
// is built on first use so a missing key only fails jobs that need it.
type APIEngine struct {
	name    string
	cfg     config.AnthropicConfig
	timeout time.Duration
	log     *zap.SugaredLogger

	once   sync.Once
	client anthropic.Client
	err    error
}

// NewAPIEngine creates an API engine.
func NewAPIEngine(name string, cfg config.AnthropicConfig, timeout time.Duration) *APIEngine {
	return &APIEngine{name: name, cfg: cfg, timeout: timeout, log: zap.S().Named("engine").With("engine", name)}
}

// Name returns the engine name.
func (e *APIEngine) Name() string { return e.name }

func (e *APIEngine) init() {
	var opts []option.RequestOption
	if e.cfg.Bedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if e.cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(e.cfg.AWSRegion))
		}
		if e.cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(e.cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		key, err := config.GetAPIKey(&config.Config{Anthropic: e.cfg})
		if err == nil {
			err = config.ValidateAPIKey(key)
		}
		if err != nil {
			e.err = err
			return
		}
		opts = append(opts, option.WithAPIKey(key))
	}
	e.client = anthropic.NewClient(opts...)
}

// ModelFor resolves the model to request, translating to a Bedrock
// inference profile when Bedrock is enabled.
func (e *APIEngine) ModelFor(requested string) anthropic.Model {
	model := anthropic.Model(requested)
	if model == "" {
		model = anthropic.Model(e.cfg.Model)
	}
	if e.cfg.Bedrock {
		model = bedrockModel(model)
	}
	return model
}

// bedrockModel maps Anthropic model aliases to Bedrock cross-region
// inference profiles. Unknown names pass through.
func bedrockModel(model anthropic.Model) anthropic.Model {
	profiles := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		"claude-sonnet-4-5":                     "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		"claude-haiku-4-5":                      "us.anthropic.claude-haiku-4-5-20251001-v1:0",
	}
	if p, ok := profiles[model]; ok {
		return anthropic.Model(p)
	}
	return model
}

// Run sends the prompt as a single user message.
func (e *APIEngine) Run(ctx context.Context, req Request) Outcome {
	out := Outcome{Engine: e.name}
	e.once.Do(e.init)
	if e.err != nil {
		out.Status = models.JobStatusFailed
		out.ExitCode = -1
		out.Error = e.err.Error()
		return out
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	maxTokens := int64(e.cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}

	start := time.Now()
	resp, err := e.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     e.ModelFor(req.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	out.Duration = time.Since(start)
	if err != nil {
		out.Status = models.JobStatusFailed
		out.ExitCode = 1
		out.Error = fmt.Sprintf("API error: %v", err)
		return out
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	e.log.Debugw("api call finished", "job", req.JobID,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)

	out.Status = models.JobStatusDone
	out.Result = text.String()
	out.Output = truncate(out.Result, maxOutputLen)
	out.EvidenceHash = EvidenceHash(out.Result)
	return out
}
