package api

import (
	"net/http"
	"strconv"

	"github.com/caamer20/Telegram-Drive/internal/apierr"
	"github.com/caamer20/Telegram-Drive/internal/protocol"
)

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	folderID, ok := s.folderParam(w, r)
	if !ok {
		return
	}
	files, err := s.drive.ListFiles(r.Context(), folderID)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.FileListResponse{Files: files})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var req protocol.UploadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Path == "" {
		s.sendError(w, http.StatusBadRequest, "path required")
		return
	}
	f, err := s.drive.Upload(r.Context(), req.Path, req.FolderID)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, f)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := s.messageParam(w, r)
	if !ok {
		return
	}
	var req protocol.DownloadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.SavePath == "" {
		s.sendError(w, http.StatusBadRequest, "save_path required")
		return
	}
	msg, err := s.drive.Download(r.Context(), id, req.SavePath, req.FolderID)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.MessageResponse{Result: msg})
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := s.messageParam(w, r)
	if !ok {
		return
	}
	folderID, ok := s.folderParam(w, r)
	if !ok {
		return
	}
	if err := s.drive.DeleteFiles(r.Context(), folderID, id); err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	var req protocol.MoveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.drive.MoveFiles(r.Context(), req.MessageIDs, req.SourceID, req.TargetID); err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	id, ok := s.messageParam(w, r)
	if !ok {
		return
	}
	folderID, ok := s.folderParam(w, r)
	if !ok {
		return
	}
	res, err := s.drive.Preview(r.Context(), id, folderID)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.MessageResponse{Result: res})
}

func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	id, ok := s.messageParam(w, r)
	if !ok {
		return
	}
	folderID, ok := s.folderParam(w, r)
	if !ok {
		return
	}
	res, err := s.drive.Thumbnail(r.Context(), id, folderID)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.MessageResponse{Result: res})
}

// ─── Folders ────────────────────────────────────────────────────────────────

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.drive.ScanFolders(r.Context())
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, protocol.FolderListResponse{Folders: folders})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req protocol.FolderRequest
	if !s.decode(w, r, &req) {
		return
	}
	f, err := s.drive.CreateFolder(r.Context(), req.Name)
	if err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, f)
}

func (s *Server) handleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.sendAPIError(w, r, apierr.InvalidArgument("invalid folder id %q", r.PathValue("id")))
		return
	}
	if err := s.drive.DeleteFolder(r.Context(), id); err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Housekeeping ───────────────────────────────────────────────────────────

func (s *Server) handleBandwidth(w http.ResponseWriter, r *http.Request) {
	st := s.drive.Bandwidth()
	s.sendJSON(w, http.StatusOK, protocol.BandwidthResponse{
		Date:      st.Date,
		UpBytes:   st.UpBytes,
		DownBytes: st.DownBytes,
		Limit:     s.drive.BandwidthLimit(),
	})
}

func (s *Server) handleCleanCache(w http.ResponseWriter, r *http.Request) {
	if err := s.drive.CleanCache(); err != nil {
		s.sendAPIError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, protocol.NetworkResponse{Available: s.drive.IsNetworkAvailable(r.Context())})
}
