package endpoints

import (
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfmark/internal/api"
	"github.com/jackzampolin/pdfmark/internal/assemble"
)

// ResultResponse carries the final Markdown of a conversion.
type ResultResponse struct {
	ID       string `json:"id"`
	Markdown string `json:"markdown"`
}

func (r ResultResponse) Text() string { return r.Markdown }

// ConversionResultEndpoint handles GET /api/conversions/{id}/result.
type ConversionResultEndpoint struct{ conversionGroup }

var _ api.Endpoint = (*ConversionResultEndpoint)(nil)

func (e *ConversionResultEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/conversions/{id}/result", e.handler
}

func (e *ConversionResultEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get conversion result
//	@Description	Final Markdown of a complete or partially failed conversion
//	@Tags			conversions
//	@Produce		json
//	@Produce		text/markdown
//	@Param			id		path		string	true	"Conversion ID"
//	@Param			format	query		string	false	"raw for text/markdown"
//	@Success		200		{object}	ResultResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse	"still running"
//	@Failure		410		{object}	ErrorResponse	"failed or cancelled"
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/conversions/{id}/result [get]
func (e *ConversionResultEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	orch := orchestratorOr503(w, r)
	if orch == nil {
		return
	}
	md, err := orch.GetResult(r.Context(), id)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "raw" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(md))
		return
	}
	writeJSON(w, http.StatusOK, ResultResponse{ID: id, Markdown: md})
}

func (e *ConversionResultEndpoint) Command(getServerURL func() string) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "result <id>",
		Short: "Fetch the Markdown of a finished conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ResultResponse
			if err := client.Get(cmd.Context(), "/api/conversions/"+args[0]+"/result", &resp); err != nil {
				return err
			}
			if outPath == "" {
				fmt.Print(resp.Markdown)
				return nil
			}
			if err := os.WriteFile(outPath, []byte(resp.Markdown), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", outPath, err)
			}
			fmt.Printf("Wrote %s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "", "Write the Markdown to this file instead of stdout")
	return cmd
}

// ChunksResponse lists the heading-delimited chunks of a result.
type ChunksResponse struct {
	ID     string           `json:"id"`
	Level  int              `json:"level"`
	Chunks []assemble.Chunk `json:"chunks"`
}

// ConversionChunksEndpoint handles GET /api/conversions/{id}/chunks.
type ConversionChunksEndpoint struct{ conversionGroup }

var _ api.Endpoint = (*ConversionChunksEndpoint)(nil)

func (e *ConversionChunksEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/conversions/{id}/chunks", e.handler
}

func (e *ConversionChunksEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get result chunks
//	@Description	Split the result at headings of level <= level
//	@Tags			conversions
//	@Produce		json
//	@Param			id		path		string	true	"Conversion ID"
//	@Param			level	query		int		false	"Split level (default from the conversion options)"
//	@Success		200		{object}	ChunksResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		404		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		410		{object}	ErrorResponse
//	@Router			/api/conversions/{id}/chunks [get]
func (e *ConversionChunksEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	level := 0
	if v := r.URL.Query().Get("level"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 6 {
			writeError(w, http.StatusBadRequest, "level must be between 1 and 6")
			return
		}
		level = n
	}
	orch := orchestratorOr503(w, r)
	if orch == nil {
		return
	}
	chunks, err := orch.GetChunks(r.Context(), id, level)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChunksResponse{ID: id, Level: level, Chunks: chunks})
}

func (e *ConversionChunksEndpoint) Command(getServerURL func() string) *cobra.Command {
	var level int
	cmd := &cobra.Command{
		Use:   "chunks <id>",
		Short: "Split a finished conversion into heading-delimited chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/conversions/" + args[0] + "/chunks"
			if level > 0 {
				path += "?level=" + strconv.Itoa(level)
			}
			client := api.NewClient(getServerURL())
			var resp ChunksResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&level, "level", 0, "Split at headings of this level or shallower")
	return cmd
}
