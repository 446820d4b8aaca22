package endpoints

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/pdfmark/internal/api"
	"github.com/jackzampolin/pdfmark/internal/pipeline"
	"github.com/jackzampolin/pdfmark/internal/render"
	"github.com/jackzampolin/pdfmark/internal/store"
	"github.com/jackzampolin/pdfmark/internal/svcctx"
)

// maxUploadBytes bounds a single uploaded PDF.
const maxUploadBytes = 512 << 20

// conversionGroup places a command under "pdfmark api conversions".
type conversionGroup struct{}

func (conversionGroup) Group() (string, string) {
	return "conversions", "Start, inspect and fetch PDF conversions"
}

// ConversionResponse is the status of one conversion.
type ConversionResponse struct {
	pipeline.Status
}

// Text renders a one-line summary plus one line per unfinished page.
func (c ConversionResponse) Text() string {
	var b strings.Builder
	done := 0
	for _, p := range c.Pages {
		if p.State == store.PageAssembled {
			done++
		}
	}
	fmt.Fprintf(&b, "%s  %s  %s  %d/%d pages", c.ID, c.Filename, c.State, done, c.PageCount)
	if c.Error != "" {
		fmt.Fprintf(&b, "  error: %s", c.Error)
	}
	for _, p := range c.Pages {
		if p.State == store.PageAssembled {
			continue
		}
		fmt.Fprintf(&b, "\n  page %d: %s", p.Index+1, p.State)
		if p.Retries > 0 {
			fmt.Fprintf(&b, " (retries %d)", p.Retries)
		}
		if p.Error != "" {
			fmt.Fprintf(&b, " %s", p.Error)
		}
	}
	return b.String()
}

// ListConversionsResponse is the response for listing conversions.
type ListConversionsResponse struct {
	Conversions []ConversionResponse `json:"conversions"`
	Total       int                  `json:"total"`
}

func (l ListConversionsResponse) Text() string {
	if l.Total == 0 {
		return "no conversions"
	}
	lines := make([]string, 0, len(l.Conversions))
	for _, c := range l.Conversions {
		first, _, _ := strings.Cut(c.Text(), "\n")
		lines = append(lines, first)
	}
	return strings.Join(lines, "\n")
}

// SubmitConversionResponse is returned when a conversion is accepted.
type SubmitConversionResponse struct {
	ID string `json:"id"`
}

// orchestratorOr503 returns the orchestrator from the request context or
// writes a 503.
func orchestratorOr503(w http.ResponseWriter, r *http.Request) *pipeline.Orchestrator {
	orch := svcctx.OrchestratorFrom(r.Context())
	if orch == nil {
		writeError(w, http.StatusServiceUnavailable, "orchestrator not initialized")
	}
	return orch
}

// writePipelineError maps orchestrator errors onto HTTP status codes.
func writePipelineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrNotReady), errors.Is(err, pipeline.ErrTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrNoResult):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, pipeline.ErrInvalidCutoff),
		errors.Is(err, render.ErrInvalidPDF),
		errors.Is(err, render.ErrUnknownRenderer):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// SubmitConversionEndpoint handles POST /api/conversions.
type SubmitConversionEndpoint struct{ conversionGroup }

var _ api.Endpoint = (*SubmitConversionEndpoint)(nil)

func (e *SubmitConversionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/conversions", e.handler
}

func (e *SubmitConversionEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start a conversion
//	@Description	Upload a PDF and start converting it to Markdown
//	@Tags			conversions
//	@Accept			mpfd
//	@Produce		json
//	@Param			file			formData	file	true	"PDF to convert"
//	@Param			heading_cutoff	formData	int		false	"Level for the shallowest heading (1-6)"
//	@Param			dpi				formData	int		false	"Render resolution"
//	@Param			renderer		formData	string	false	"fitz or pdftoppm"
//	@Param			reading_order	formData	string	false	"ltr or rtl"
//	@Param			skip_ocr		formData	bool	false	"Transcribe from the image alone"
//	@Param			chunk_level		formData	int		false	"Default chunk split level"
//	@Param			table_text		formData	bool	false	"Rewrite tables as sentences"
//	@Success		202		{object}	SubmitConversionResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/conversions [post]
func (e *SubmitConversionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	orch := orchestratorOr503(w, r)
	if orch == nil {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to parse form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	sc := pipeline.StartConfig{Filename: filepath.Base(header.Filename)}
	if sc.HeadingCutoff, err = formInt(r, "heading_cutoff"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sc.Options.DPI, err = formInt(r, "dpi"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if sc.Options.ChunkLevel, err = formInt(r, "chunk_level"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sc.Options.Renderer = r.FormValue("renderer")
	sc.Options.ReadingOrder = r.FormValue("reading_order")
	if v := r.FormValue("skip_ocr"); v != "" {
		if sc.Options.SkipOCR, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("skip_ocr: %v", err))
			return
		}
	}
	if v := r.FormValue("table_text"); v != "" {
		if sc.Options.TableText, err = strconv.ParseBool(v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("table_text: %v", err))
			return
		}
	}

	id, err := orch.StartConversion(r.Context(), data, sc)
	if err != nil {
		writePipelineError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitConversionResponse{ID: id})
}

func formInt(r *http.Request, key string) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func (e *SubmitConversionEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		cutoff, dpi, chunkLevel  int
		renderer, readingOrder   string
		skipOCR, tableText, wait bool
	)
	cmd := &cobra.Command{
		Use:   "submit <file.pdf>",
		Short: "Upload a PDF and start converting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			fields := map[string]string{}
			if cutoff > 0 {
				fields["heading_cutoff"] = strconv.Itoa(cutoff)
			}
			if dpi > 0 {
				fields["dpi"] = strconv.Itoa(dpi)
			}
			if chunkLevel > 0 {
				fields["chunk_level"] = strconv.Itoa(chunkLevel)
			}
			if renderer != "" {
				fields["renderer"] = renderer
			}
			if readingOrder != "" {
				fields["reading_order"] = readingOrder
			}
			if skipOCR {
				fields["skip_ocr"] = "true"
			}
			if tableText {
				fields["table_text"] = "true"
			}

			client := api.NewClient(getServerURL())
			var resp SubmitConversionResponse
			if err := client.PostFile(cmd.Context(), "/api/conversions", filepath.Base(args[0]), data, fields, &resp); err != nil {
				return err
			}
			if !wait {
				return api.Output(resp)
			}

			status, err := pollConversion(cmd, client, resp.ID, time.Second)
			if err != nil {
				return err
			}
			return api.Output(status)
		},
	}
	cmd.Flags().IntVar(&cutoff, "heading-cutoff", 0, "Level for the shallowest heading (1-6, default from config)")
	cmd.Flags().IntVar(&dpi, "dpi", 0, "Render resolution (default from config)")
	cmd.Flags().IntVar(&chunkLevel, "chunk-level", 0, "Default chunk split level")
	cmd.Flags().StringVar(&renderer, "renderer", "", "Page renderer: fitz or pdftoppm")
	cmd.Flags().StringVar(&readingOrder, "reading-order", "", "Column reading order: ltr or rtl")
	cmd.Flags().BoolVar(&skipOCR, "skip-ocr", false, "Transcribe from the image without an OCR hint")
	cmd.Flags().BoolVar(&tableText, "table-text", false, "Rewrite tables as sentences")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the conversion finishes")
	return cmd
}

// pollConversion fetches the status every interval until the conversion is
// terminal.
func pollConversion(cmd *cobra.Command, client *api.Client, id string, interval time.Duration) (ConversionResponse, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		var resp ConversionResponse
		if err := client.Get(cmd.Context(), "/api/conversions/"+id, &resp); err != nil {
			return resp, err
		}
		if resp.State.Terminal() {
			return resp, nil
		}
		select {
		case <-cmd.Context().Done():
			return resp, cmd.Context().Err()
		case <-ticker.C:
		}
	}
}

// ListConversionsEndpoint handles GET /api/conversions.
type ListConversionsEndpoint struct{ conversionGroup }

var _ api.Endpoint = (*ListConversionsEndpoint)(nil)

func (e *ListConversionsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/conversions", e.handler
}

func (e *ListConversionsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List conversions
//	@Tags			conversions
//	@Produce		json
//	@Success		200	{object}	ListConversionsResponse
//	@Failure		500	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/conversions [get]
func (e *ListConversionsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	orch := orchestratorOr503(w, r)
	if orch == nil {
		return
	}
	list, err := orch.List(r.Context())
	if err != nil {
		writePipelineError(w, err)
		return
	}
	resp := ListConversionsResponse{Conversions: make([]ConversionResponse, 0, len(list))}
	for _, s := range list {
		resp.Conversions = append(resp.Conversions, ConversionResponse{Status: s})
	}
	resp.Total = len(resp.Conversions)
	writeJSON(w, http.StatusOK, resp)
}

func (e *ListConversionsEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ListConversionsResponse
			if err := client.Get(cmd.Context(), "/api/conversions", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// GetConversionEndpoint handles GET /api/conversions/{id}.
type GetConversionEndpoint struct{ conversionGroup }

var _ api.Endpoint = (*GetConversionEndpoint)(nil)

func (e *GetConversionEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/conversions/{id}", e.handler
}

func (e *GetConversionEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get conversion status
//	@Description	Document state plus per-page states, retries and errors
//	@Tags			conversions
//	@Produce		json
//	@Param			id	path		string	true	"Conversion ID"
//	@Success		200	{object}	ConversionResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/conversions/{id} [get]
func (e *GetConversionEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "conversion id is required")
		return
	}
	orch := orchestratorOr503(w, r)
	if orch == nil {
		return
	}
	status, err := orch.GetStatus(r.Context(), id)
	if err != nil {
		writePipelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ConversionResponse{Status: status})
}

func (e *GetConversionEndpoint) Command(getServerURL func() string) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get conversion status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			if watch {
				resp, err := pollConversion(cmd, client, args[0], time.Second)
				if err != nil {
					return err
				}
				return api.Output(resp)
			}
			var resp ConversionResponse
			if err := client.Get(cmd.Context(), "/api/conversions/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVar(&watch, "wait", false, "Wait until the conversion finishes")
	return cmd
}
