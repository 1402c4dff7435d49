package cvgen

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"jobpilot/internal/cvadapt"
	"jobpilot/internal/errors"
	"jobpilot/internal/models"
	"jobpilot/internal/render"
	"jobpilot/internal/server"
	"jobpilot/internal/store"
)

const uploadMemory = 8 << 20

var uploadFormats = map[string]bool{"txt": true, "md": true, "json": true, "docx": true, "pdf": true}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func (s *Service) writeDownload(name string, data []byte) error {
	if err := store.WriteFileAtomic(filepath.Join(s.downloadsDir, name), data); err != nil {
		return errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed, "cannot write "+name, err)
	}
	return nil
}

func (s *Service) removeFiles(sess Session) int {
	n := 0
	paths := make([]string, 0, len(sess.Generations)+1)
	for _, g := range sess.Generations {
		paths = append(paths, filepath.Join(s.downloadsDir, g.Filename))
	}
	if sess.Upload != nil {
		paths = append(paths, filepath.Join(s.uploadsDir, sess.Upload.StoredAs))
	}
	for _, p := range paths {
		if err := os.Remove(p); err == nil {
			n++
		} else if !os.IsNotExist(err) {
			s.logger.Warn("Generated file not removed", "path", p, "error", err.Error())
		}
	}
	return n
}

func (s *Service) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "invalid file name", nil))
		return
	}
	f, err := os.Open(filepath.Join(s.downloadsDir, name))
	if err != nil {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "File not found", nil).WithContext("filename", name))
		return
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", render.ContentType(filepath.Ext(name)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, info.ModTime(), f)
}

var (
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
	paragraphEnd = regexp.MustCompile(`</w:p>`)
)

// docxText extracts paragraph text from word/document.xml.
func docxText(data []byte) (string, bool) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", false
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", false
		}
		raw, err := io.ReadAll(io.LimitReader(rc, uploadMemory))
		_ = rc.Close()
		if err != nil {
			return "", false
		}
		text := paragraphEnd.ReplaceAllString(string(raw), "\n")
		text = xmlTag.ReplaceAllString(text, "")
		r := strings.NewReplacer("&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'")
		return r.Replace(text), true
	}
	return "", false
}

var sectionWords = []string{"summary", "profile", "skills", "experience", "employment", "education", "languages", "certifications", "projects"}

func detectSections(text string) []string {
	found := map[string]bool{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.ToLower(strings.Trim(strings.TrimSpace(line), "#*: "))
		if line == "" || len(line) > 40 {
			continue
		}
		for _, w := range sectionWords {
			if strings.HasPrefix(line, w) || strings.HasSuffix(line, w) {
				found[w] = true
			}
		}
	}
	out := make([]string, 0, len(found))
	for w := range found {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func cvSections(cv models.CV) []string {
	var out []string
	if strings.TrimSpace(cv.Summary) != "" {
		out = append(out, "summary")
	}
	if len(cv.Skills) > 0 {
		out = append(out, "skills")
	}
	if len(cv.Experience) > 0 {
		out = append(out, "experience")
	}
	if len(cv.Education) > 0 {
		out = append(out, "education")
	}
	return out
}

func (s *Service) analyze(format string, data []byte) UploadAnalysis {
	a := UploadAnalysis{FileFormat: format, SectionsDetected: []string{}, SkillsDetected: []string{}}
	var text string
	switch format {
	case "txt", "md":
		text, a.TextExtracted = string(data), true
		a.SectionsDetected = detectSections(text)
	case "json":
		var cv models.CV
		if err := json.Unmarshal(data, &cv); err == nil {
			text, a.TextExtracted = cvadapt.Text(cv), true
			a.SectionsDetected = cvSections(cv)
		}
	case "docx":
		text, a.TextExtracted = docxText(data)
		a.SectionsDetected = detectSections(text)
	}
	if !a.TextExtracted {
		return a
	}
	a.WordCount = len(strings.Fields(text))
	reqs := s.parser.Parse(text)
	skills := append(append([]string{}, reqs.RequiredSkills...), reqs.NiceToHaveSkills...)
	a.SkillsDetected = models.NormalizeTerms(skills)
	sort.Strings(a.SkillsDetected)
	return a
}

func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("session_id")
	sess, ok, err := s.sessions.Get(id)
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	if !ok {
		server.Fail(w, r, errors.NewNotFoundError(errors.ErrCodeNotFound, "CV session not found", nil).WithContext("session_id", id))
		return
	}
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "multipart form expected", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeMissingField, "file field required", err))
		return
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "cannot read upload", err))
		return
	}
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if !uploadFormats[format] {
		server.Fail(w, r, errors.NewValidationError(errors.ErrCodeInvalidRequest, "unsupported file type ."+format, nil))
		return
	}

	sum := sha256.Sum256(data)
	stored := id + "_" + unsafeChars.ReplaceAllString(filepath.Base(header.Filename), "_")
	if err := store.WriteFileAtomic(filepath.Join(s.uploadsDir, stored), data); err != nil {
		server.Fail(w, r, errors.NewPersistenceError(errors.ErrCodePersistenceWriteFailed, "cannot store upload", err))
		return
	}
	up := &Upload{
		Filename:   header.Filename,
		StoredAs:   stored,
		Bytes:      len(data),
		SHA256:     hex.EncodeToString(sum[:]),
		Analysis:   s.analyze(format, data),
		UploadedAt: s.now().UTC(),
	}
	err = s.sessions.Update(func(all map[string]Session) error {
		cur, ok := all[id]
		if !ok {
			return errors.NewNotFoundError(errors.ErrCodeNotFound, "CV session not found", nil)
		}
		if cur.Upload != nil && cur.Upload.StoredAs != stored {
			_ = os.Remove(filepath.Join(s.uploadsDir, cur.Upload.StoredAs))
		}
		cur.Upload = up
		cur.UpdatedAt = s.now().UTC()
		all[id] = cur
		return nil
	})
	if err != nil {
		server.Fail(w, r, err)
		return
	}
	s.logger.Info("CV uploaded", "session_id", sess.ID, "format", format, "bytes", len(data), "skills", len(up.Analysis.SkillsDetected))
	server.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id":           id,
		"template_uploaded":    true,
		"filename":             header.Filename,
		"analysis":             up.Analysis,
		"ready_for_generation": true,
	})
}
