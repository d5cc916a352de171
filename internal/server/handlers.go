package server

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"time"

	vlmlocate "github.com/menta2k/vlm-locate"
	"github.com/menta2k/vlm-locate/internal/config"
	perr "github.com/menta2k/vlm-locate/internal/errors"
	"github.com/menta2k/vlm-locate/internal/logger"
	"github.com/menta2k/vlm-locate/internal/validate"
	"github.com/menta2k/vlm-locate/pkg/client"
	"github.com/menta2k/vlm-locate/pkg/types"
)

type handlers struct {
	cfg *config.Config
	loc *vlmlocate.Locator
	log *logger.Logger
}

// locateForm is the multipart body of POST /v1/locate
type locateForm struct {
	Command  string `form:"command" validate:"required,max=500"`
	Provider string `form:"provider" validate:"omitempty,alphanum,max=32"`
	Annotate bool   `form:"annotate"`
}

// LocateResponse is the data of a locate reply
type LocateResponse struct {
	Result types.Result `json:"result"`
	// AnnotatedPNG is the base64 PNG with markers, present when requested and something was found
	AnnotatedPNG string `json:"annotated_png,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, map[string]string{"status": "ok", "version": vlmlocate.Version, "provider": h.loc.Provider()})
}

// providers lists configured providers; ?check=true also pings the available ones
func (h *handlers) providers(w http.ResponseWriter, r *http.Request) {
	infos := client.Available(h.cfg)
	if check, _ := strconv.ParseBool(r.URL.Query().Get("check")); check {
		var clients []client.VisionClient
		for _, info := range infos {
			if !info.Available {
				continue
			}
			if c, err := client.New(info.Name, h.cfg); err == nil {
				clients = append(clients, c)
			}
		}
		errs := client.Check(r.Context(), clients, 5*time.Second)
		for i := range infos {
			if err, ok := errs[infos[i].Name]; ok && err != nil {
				infos[i].Available = false
				infos[i].Reason = err.Error()
			}
		}
	}
	respondOK(w, r, infos)
}

func (h *handlers) locate(w http.ResponseWriter, r *http.Request) {
	limit := int64(h.cfg.Server.MaxUploadMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		respondError(w, r, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "expected a multipart form within the upload limit"), nil)
		return
	}

	form := locateForm{
		Command:  r.FormValue("command"),
		Provider: r.FormValue("provider"),
	}
	form.Annotate, _ = strconv.ParseBool(r.FormValue("annotate"))
	if err := validate.Struct(form); err != nil {
		respondError(w, r, err, nil)
		return
	}

	file, _, err := r.FormFile("image")
	if err != nil {
		respondError(w, r, perr.InvalidArgf("image: %v", err), nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "image: read failed"), nil)
		return
	}
	img, err := h.loc.Processor().DecodeImage(data)
	if err != nil {
		respondError(w, r, perr.Classify(err, perr.ErrorCodeInvalidArgument, "image"), nil)
		return
	}

	out, err := h.loc.Locate(r.Context(), vlmlocate.Query{Command: form.Command, Image: img, Provider: form.Provider})
	resp := LocateResponse{Result: out.Result}
	if form.Annotate && out.Annotated {
		var buf bytes.Buffer
		if encErr := h.loc.Processor().EncodeImage(&buf, out.Image, "png", 0, false); encErr != nil {
			logger.C(r.Context()).Error().Err(encErr).Msg("encode annotated image")
		} else {
			resp.AnnotatedPNG = base64.StdEncoding.EncodeToString(buf.Bytes())
		}
	}
	if err != nil {
		respondError(w, r, err, resp)
		return
	}
	respondOK(w, r, resp)
}
