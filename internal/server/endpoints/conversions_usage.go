package endpoints

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfmark/internal/api"
	"github.com/jackzampolin/pdfmark/internal/metrics"
	"github.com/jackzampolin/pdfmark/internal/svcctx"
)

// UsageResponse is the provider call breakdown of one conversion.
type UsageResponse struct {
	metrics.Usage
}

func (u UsageResponse) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d calls, %d errors, %d tokens\n",
		u.DocumentID, u.Total.Count, u.Total.ErrorCount, u.Total.TotalTokens)
	stages := make([]string, 0, len(u.ByStage))
	for s := range u.ByStage {
		stages = append(stages, s)
	}
	sort.Strings(stages)
	for _, s := range stages {
		st := u.ByStage[s]
		fmt.Fprintf(&b, "  %-10s %4d calls  p50 %.2fs  p95 %.2fs\n", s, st.Count, st.LatencyP50, st.LatencyP95)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ConversionUsageEndpoint handles GET /api/conversions/{id}/usage.
type ConversionUsageEndpoint struct{ conversionGroup }

var _ api.Endpoint = (*ConversionUsageEndpoint)(nil)

func (e *ConversionUsageEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/conversions/{id}/usage", e.handler
}

func (e *ConversionUsageEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get provider usage
//	@Description	Token counts and latencies of the OCR and model calls made for a conversion since the server started
//	@Tags			conversions
//	@Produce		json
//	@Param			id	path		string	true	"Conversion ID"
//	@Success		200	{object}	UsageResponse
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/conversions/{id}/usage [get]
func (e *ConversionUsageEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	orch := orchestratorOr503(w, r)
	if orch == nil {
		return
	}
	if _, err := orch.GetStatus(r.Context(), id); err != nil {
		writePipelineError(w, err)
		return
	}
	rec := svcctx.MetricsFrom(r.Context())
	writeJSON(w, http.StatusOK, UsageResponse{Usage: rec.Usage(id)})
}

func (e *ConversionUsageEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <id>",
		Short: "Show provider calls and token usage of a conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp UsageResponse
			if err := client.Get(cmd.Context(), "/api/conversions/"+args[0]+"/usage", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
