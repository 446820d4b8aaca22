package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfmark/internal/api"
	"github.com/jackzampolin/pdfmark/internal/svcctx"
)

// CancelConversionEndpoint handles POST /api/conversions/{id}/cancel.
type CancelConversionEndpoint struct{ conversionGroup }

var _ api.Endpoint = (*CancelConversionEndpoint)(nil)

func (e *CancelConversionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/conversions/{id}/cancel", e.handler
}

func (e *CancelConversionEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Cancel a conversion
//	@Description	Stops work on a running conversion. Cancelling twice is a no-op.
//	@Tags			conversions
//	@Produce		json
//	@Param			id	path		string	true	"Conversion ID"
//	@Success		200	{object}	ConversionResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse	"already finished"
//	@Router			/api/conversions/{id}/cancel [post]
func (e *CancelConversionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	orch := orchestratorOr503(w, r)
	if orch == nil {
		return
	}
	if err := orch.Cancel(r.Context(), id); err != nil {
		writePipelineError(w, err)
		return
	}
	status, err := orch.GetStatus(r.Context(), id)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversionResponse{Status: status})
}

func (e *CancelConversionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a running conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ConversionResponse
			if err := client.Post(cmd.Context(), "/api/conversions/"+args[0]+"/cancel", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// DeleteConversionEndpoint handles DELETE /api/conversions/{id}.
type DeleteConversionEndpoint struct{ conversionGroup }

var _ api.Endpoint = (*DeleteConversionEndpoint)(nil)

func (e *DeleteConversionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/conversions/{id}", e.handler
}

func (e *DeleteConversionEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Delete a conversion
//	@Description	Cancels the conversion if running and removes its state and artifacts
//	@Tags			conversions
//	@Param			id	path	string	true	"Conversion ID"
//	@Success		204
//	@Failure		404	{object}	ErrorResponse
//	@Router			/api/conversions/{id} [delete]
func (e *DeleteConversionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	orch := orchestratorOr503(w, r)
	if orch == nil {
		return
	}
	if err := orch.Delete(r.Context(), id); err != nil {
		writePipelineError(w, err)
		return
	}
	svcctx.MetricsFrom(r.Context()).Forget(id)
	w.WriteHeader(http.StatusNoContent)
}

func (e *DeleteConversionEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversion and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if err := client.Delete(cmd.Context(), "/api/conversions/"+args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted conversion %s\n", args[0])
			return nil
		},
	}
}
