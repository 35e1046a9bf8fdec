package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/CzarSimon/httputil"
	"github.com/CzarSimon/httputil/client/rpc"
	"github.com/opentracing/opentracing-go"
	tracelog "github.com/opentracing/opentracing-go/log"
	"github.com/talentsync/session-manager/internal/models"
)

// Languages accepted by the remote runner, mapped to the versions pinned
// on the execution API.
var runnerLanguages = map[string]string{
	"javascript": "18.15.0",
	"typescript": "5.0.3",
	"python":     "3.10.0",
	"java":       "15.0.2",
	"c":          "10.2.0",
	"cpp":        "10.2.0",
	"go":         "1.16.2",
	"rust":       "1.68.2",
	"ruby":       "3.0.1",
}

var runnerFileExtensions = map[string]string{
	"javascript": "js",
	"typescript": "ts",
	"python":     "py",
	"java":       "java",
	"c":          "c",
	"cpp":        "cpp",
	"go":         "go",
	"rust":       "rs",
	"ruby":       "rb",
}

type runnerFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type runnerRequest struct {
	Language string       `json:"language"`
	Version  string       `json:"version"`
	Files    []runnerFile `json:"files"`
}

type runnerResponse struct {
	Run struct {
		Stdout string `json:"stdout"`
		Stderr string `json:"stderr"`
		Code   int    `json:"code"`
	} `json:"run"`
}

// RunnerService proxies code execution to a remote runner API.
// Execution semantics are owned entirely by the runner, this service
// only translates requests and surfaces stdout/stderr.
type RunnerService struct {
	BaseURL string
	RPC     rpc.Client
}

// Run executes a snippet of code remotely.
func (s *RunnerService) Run(ctx context.Context, req models.CodeRunRequest) (models.CodeRunResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "service.RunnerService.Run")
	defer span.Finish()

	version, ok := runnerLanguages[req.Language]
	if !ok {
		err := httputil.NewError("Unsupported language "+req.Language, http.StatusBadRequest, nil)
		span.LogFields(tracelog.Error(err))
		return models.CodeRunResult{}, err
	}

	body := runnerRequest{
		Language: req.Language,
		Version:  version,
		Files: []runnerFile{
			{
				Name:    "main." + runnerFileExtensions[req.Language],
				Content: req.Code,
			},
		},
	}

	httpReq, err := s.RPC.CreateRequest(http.MethodPost, s.BaseURL+"/execute", body)
	if err != nil {
		err = fmt.Errorf("failed to create runner request %w", err)
		span.LogFields(tracelog.Error(err))
		return models.CodeRunResult{}, httputil.InternalServerError(err)
	}

	res, err := s.RPC.Do(httpReq.WithContext(ctx))
	if err != nil {
		err = fmt.Errorf("failed to call code runner %w", err)
		span.LogFields(tracelog.Error(err))
		return models.CodeRunResult{}, httputil.BadGatewayError(err)
	}

	if res.StatusCode != http.StatusOK {
		err = fmt.Errorf("code runner responded with status %s", res.Status)
		span.LogFields(tracelog.Error(err))
		return models.CodeRunResult{}, httputil.BadGatewayError(err)
	}

	var runnerRes runnerResponse
	err = rpc.DecodeJSON(res, &runnerRes)
	if err != nil {
		err = fmt.Errorf("failed to decode runner response %w", err)
		span.LogFields(tracelog.Error(err))
		return models.CodeRunResult{}, httputil.BadGatewayError(err)
	}

	return models.CodeRunResult{
		Stdout:   runnerRes.Run.Stdout,
		Stderr:   runnerRes.Run.Stderr,
		ExitCode: runnerRes.Run.Code,
	}, nil
}
