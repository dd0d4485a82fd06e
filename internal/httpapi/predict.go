package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"

	"predictd/internal/handler"
	"predictd/pkg/types"
)

// predictHandler godoc
// @Summary      Run a prediction
// @Description  Runs the named model on an uploaded image. Switching models unloads the previously active one.
// @Tags         predict
// @Accept       multipart/form-data
// @Produce      json
// @Param        model    path      string  true   "Model name"
// @Param        file     formData  file    true   "Image file"
// @Param        payload  formData  string  false  "Tabular features as JSON (fusion models)"
// @Success      200  {object}  types.PredictResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Failure      500  {object}  types.ErrorResponse
// @Failure      503  {object}  types.ErrorResponse
// @Failure      504  {object}  types.ErrorResponse
// @Router       /predict/{model} [post]
func predictHandler(svc Service, base context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "model")
		lvl := requestLogLevel(r)

		if !isMultipart(r.Header.Get("Content-Type")) {
			IncrementRejected("media_type")
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be multipart/form-data")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		in, err := readInput(r)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				IncrementRejected("body_too_large")
				writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			IncrementRejected("bad_form")
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		h, err := svc.Get(name)
		if err != nil {
			status, kind := statusFor(err)
			writeJSONErrorKind(w, status, err.Error(), kind)
			return
		}

		reqCtx, cancel := requestContext(base, r.Context())
		defer cancel()
		ctx := reqCtx
		if predictTimeout > 0 {
			var tcancel context.CancelFunc
			ctx, tcancel = context.WithTimeout(reqCtx, time.Duration(predictTimeout)*time.Second)
			defer tcancel()
		}

		start := time.Now()
		if e := reqEvent(r, lvl, LevelInfo); e != nil {
			e.Str("model", name).Int("file_bytes", len(in.FileBytes)).Msg("predict start")
		}
		result, err := runStages(ctx, h, in)
		if err != nil {
			status, kind := statusFor(err)
			switch {
			case shuttingDown(reqCtx):
				status, kind = http.StatusServiceUnavailable, "shutdown"
				err = errShuttingDown
			case r.Context().Err() != nil:
				// Client went away; nobody reads the reply.
				return
			}
			if e := reqEvent(r, lvl, LevelError); e != nil {
				e.Str("model", name).Int("status", status).Str("kind", kind).Dur("dur", time.Since(start)).Err(err).Msg("predict end")
			}
			writeJSONErrorKind(w, status, err.Error(), kind)
			return
		}
		if e := reqEvent(r, lvl, LevelInfo); e != nil {
			e.Str("model", name).Int("status", http.StatusOK).Dur("dur", time.Since(start)).Msg("predict end")
		}
		writeJSON(w, types.PredictResponse{
			Status:      "success",
			Model:       name,
			ModelLoaded: h.Loaded(),
			Result:      result,
		})
	}
}

// readInput extracts the "file" and optional "payload" form fields. A missing
// file is passed through as nil so the handler reports it.
func readInput(r *http.Request) (handler.Input, error) {
	var in handler.Input
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		return in, err
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}
	f, _, err := r.FormFile("file")
	switch {
	case err == nil:
		defer f.Close()
		b, err := io.ReadAll(f)
		if err != nil {
			return in, err
		}
		in.FileBytes = b
	case errors.Is(err, http.ErrMissingFile):
	default:
		return in, err
	}
	if p := r.FormValue("payload"); p != "" {
		if !gjson.Valid(p) {
			return in, errors.New("payload is not valid JSON")
		}
		in.Payload = []byte(p)
	}
	return in, nil
}

// runStages is handler.Run with per-stage timing.
func runStages(ctx context.Context, h handler.Handler, in handler.Input) (any, error) {
	model := h.Name()
	t := time.Now()
	p, err := h.Preprocess(ctx, in)
	observeStage(model, "preprocess", t)
	if err != nil {
		return nil, err
	}
	t = time.Now()
	raw, err := h.Predict(ctx, p)
	observeStage(model, "predict", t)
	if err != nil {
		return nil, err
	}
	t = time.Now()
	res, err := h.Postprocess(ctx, raw)
	observeStage(model, "postprocess", t)
	return res, err
}
