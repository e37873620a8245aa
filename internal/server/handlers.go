package server

import (
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/pavel-fokin/photo-drop/internal/uploads"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

var uploadedTmpl = template.Must(template.New("uploaded").Parse(
	`Image saved! <a href="{{.ViewerURL}}">View image</a>` + "\n",
))

func uploadImage(service *uploads.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			if isTooLarge(err) {
				http.Error(w, "Request entity too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "Failed to parse multipart form", http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()

		folder := r.FormValue("folderName")
		if err := uploads.ValidateFolder(folder); err != nil {
			http.Error(w, clientMessage(err), http.StatusBadRequest)
			return
		}

		file, header, err := r.FormFile("image")
		if err != nil {
			http.Error(w, "No image provided", http.StatusBadRequest)
			return
		}
		defer file.Close()

		result, err := service.Upload(r.Context(), &uploads.UploadRequest{
			Folder:   folder,
			Name:     header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Content:  file,
		})
		if err != nil {
			if uploads.IsClientError(err) {
				http.Error(w, clientMessage(err), http.StatusBadRequest)
				return
			}
			slog.Error("Upload failed", "error", err, "folder", folder, "filename", header.Filename)
			http.Error(w, "Upload failed", http.StatusInternalServerError)
			return
		}

		if wantsJSON(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			if err := json.NewEncoder(w).Encode(result); err != nil {
				slog.Error("Failed to encode response", "error", err)
			}
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		if err := uploadedTmpl.Execute(w, result); err != nil {
			slog.Error("Failed to write response", "error", err)
		}
	}
}

func serveImage(service *uploads.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		folder, bucket, name := r.PathValue("folder"), r.PathValue("bucket"), r.PathValue("image")

		blob, err := service.OpenImage(folder, bucket, name)
		if err != nil {
			writeReadError(w, err, "folder", folder, "bucket", bucket, "image", name)
			return
		}
		defer blob.Close()

		serveBlob(w, r, name, blob)
	}
}

func serveViewer(service *uploads.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		folder, bucket := r.PathValue("folder"), r.PathValue("bucket")

		blob, err := service.OpenViewer(folder, bucket)
		if err != nil {
			writeReadError(w, err, "folder", folder, "bucket", bucket)
			return
		}
		defer blob.Close()

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		serveBlob(w, r, uploads.ViewerName, blob)
	}
}

// latestViewer redirects to the viewer of the most recent upload of a folder.
func latestViewer(service *uploads.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		folder := r.PathValue("folder")

		target, err := service.LatestViewer(r.Context(), folder)
		if err != nil {
			writeReadError(w, err, "folder", folder)
			return
		}

		http.Redirect(w, r, target, http.StatusFound)
	}
}

func serveBlob(w http.ResponseWriter, r *http.Request, name string, blob uploads.Blob) {
	info, err := blob.Stat()
	if err != nil {
		slog.Error("Failed to stat file", "error", err, "name", name)
		http.Error(w, "Failed to read file", http.StatusInternalServerError)
		return
	}
	http.ServeContent(w, r, name, info.ModTime(), blob)
}

func writeReadError(w http.ResponseWriter, err error, attrs ...any) {
	switch {
	case errors.Is(err, uploads.ErrNotFound), uploads.IsClientError(err):
		slog.Info("Not found", append(attrs, "error", err)...)
		http.Error(w, "Not found", http.StatusNotFound)
	default:
		slog.Error("Read failed", append(attrs, "error", err)...)
		http.Error(w, "Failed to read file", http.StatusInternalServerError)
	}
}

func clientMessage(err error) string {
	switch {
	case errors.Is(err, uploads.ErrMissingFolder):
		return "Folder name is required"
	case errors.Is(err, uploads.ErrInvalidFolder):
		return "Invalid folder name"
	default:
		return "Bad request"
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
