package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// fakeDrive is an in-memory stand-in for the Drive v3 files API, serving the
// subset of queries the client issues. Both the metadata and upload endpoint
// families are mounted on one test server under their real path prefixes.
type fakeDrive struct {
	mu      sync.Mutex
	nextID  int
	folders map[string]string    // id -> name
	parents map[string]string    // folder id -> parent folder id
	files   map[string]*fakeFile // id -> file

	// requireToken, when set, rejects requests without this bearer token.
	requireToken string
	// failAll, when set, answers every request with this status.
	failAll int

	server *httptest.Server
}

type fakeFile struct {
	name     string
	parent   string
	content  []byte
	created  time.Time
	modified time.Time
}

func newFakeDrive() *fakeDrive {
	d := &fakeDrive{
		folders: make(map[string]string),
		parents: make(map[string]string),
		files:   make(map[string]*fakeFile),
	}
	d.server = httptest.NewServer(http.HandlerFunc(d.handle))
	return d
}

func (d *fakeDrive) Close() { d.server.Close() }

// apiBase and uploadBase address the two endpoint families.
func (d *fakeDrive) apiBase() string    { return d.server.URL + "/drive/v3" }
func (d *fakeDrive) uploadBase() string { return d.server.URL + "/upload/drive/v3" }

func (d *fakeDrive) newID(prefix string) string {
	d.nextID++
	return fmt.Sprintf("%s-%d", prefix, d.nextID)
}

func (d *fakeDrive) findFolderID(name string) string {
	for id, n := range d.folders {
		if n == name {
			return id
		}
	}
	return ""
}

func (d *fakeDrive) fileJSON(id string, f *fakeFile) map[string]string {
	return map[string]string{
		"id":           id,
		"name":         f.name,
		"mimeType":     "application/octet-stream",
		"size":         strconv.Itoa(len(f.content)),
		"createdTime":  f.created.UTC().Format(time.RFC3339),
		"modifiedTime": f.modified.UTC().Format(time.RFC3339),
	}
}

var (
	queryNameRe   = regexp.MustCompile(`name='((?:[^'\\]|\\.)*)'`)
	queryParentRe = regexp.MustCompile(`'((?:[^'\\]|\\.)*)' in parents`)
)

func unescapeQueryValue(v string) string {
	v = strings.ReplaceAll(v, `\'`, `'`)
	return strings.ReplaceAll(v, `\\`, `\`)
}

func (d *fakeDrive) handle(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failAll != 0 {
		w.WriteHeader(d.failAll)
		return
	}
	if d.requireToken != "" && r.Header.Get("Authorization") != "Bearer "+d.requireToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	path := r.URL.Path
	switch {
	case path == "/drive/v3/files" && r.Method == http.MethodGet:
		d.handleList(w, r)
	case path == "/drive/v3/files" && r.Method == http.MethodPost:
		d.handleCreateFolder(w, r)
	case strings.HasPrefix(path, "/drive/v3/files/"):
		d.handleFileByID(w, r, strings.TrimPrefix(path, "/drive/v3/files/"))
	case path == "/upload/drive/v3/files" && r.Method == http.MethodPost:
		d.handleUpload(w, r)
	case strings.HasPrefix(path, "/upload/drive/v3/files/") && r.Method == http.MethodPatch:
		d.handleUpdate(w, r, strings.TrimPrefix(path, "/upload/drive/v3/files/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (d *fakeDrive) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	var name, parent string
	if m := queryNameRe.FindStringSubmatch(q); m != nil {
		name = unescapeQueryValue(m[1])
	}
	if m := queryParentRe.FindStringSubmatch(q); m != nil {
		parent = unescapeQueryValue(m[1])
	}

	var results []map[string]string
	switch {
	case strings.Contains(q, "mimeType='application/vnd.google-apps.folder'"):
		if id := d.findFolderID(name); id != "" {
			results = append(results, map[string]string{
				"id":       id,
				"name":     name,
				"mimeType": "application/vnd.google-apps.folder",
			})
		}
	case parent != "" && name != "":
		for id, f := range d.files {
			if f.parent == parent && f.name == name {
				results = append(results, d.fileJSON(id, f))
			}
		}
	case parent != "":
		for id, f := range d.files {
			if f.parent == parent {
				results = append(results, d.fileJSON(id, f))
			}
		}
		// Child folders show up in a folder listing too.
		for id, folderName := range d.folders {
			if d.parents[id] == parent {
				results = append(results, map[string]string{
					"id":       id,
					"name":     folderName,
					"mimeType": "application/vnd.google-apps.folder",
				})
			}
		}
	}

	if results == nil {
		results = []map[string]string{}
	}
	json.NewEncoder(w).Encode(map[string]any{"files": results})
}

func (d *fakeDrive) addSubfolder(name, parent string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.newID("folder")
	d.folders[id] = name
	d.parents[id] = parent
	return id
}

func (d *fakeDrive) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var meta struct {
		Name     string `json:"name"`
		MimeType string `json:"mimeType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	id := d.newID("folder")
	d.folders[id] = meta.Name
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (d *fakeDrive) handleFileByID(w http.ResponseWriter, r *http.Request, id string) {
	f, ok := d.files[id]
	if !ok {
		if _, isFolder := d.folders[id]; isFolder && r.Method == http.MethodDelete {
			delete(d.folders, id)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		w.Write(f.content)
	case http.MethodDelete:
		delete(d.files, id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (d *fakeDrive) handleUpload(w http.ResponseWriter, r *http.Request) {
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	reader := multipart.NewReader(r.Body, params["boundary"])

	metaPart, err := reader.NextPart()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var meta struct {
		Name    string   `json:"name"`
		Parents []string `json:"parents"`
	}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	contentPart, err := reader.NextPart()
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	content, err := io.ReadAll(contentPart)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	parent := ""
	if len(meta.Parents) > 0 {
		parent = meta.Parents[0]
	}
	now := time.Now()
	id := d.newID("file")
	d.files[id] = &fakeFile{
		name:     meta.Name,
		parent:   parent,
		content:  content,
		created:  now,
		modified: now,
	}
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

func (d *fakeDrive) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	f, ok := d.files[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	content, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.content = content
	f.modified = time.Now()
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

// Test inspection helpers.

func (d *fakeDrive) folderNamed(name string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.findFolderID(name)
	return id, id != ""
}

func (d *fakeDrive) deleteFolder(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.folders, id)
	for fid, f := range d.files {
		if f.parent == id {
			delete(d.files, fid)
		}
	}
}

func (d *fakeDrive) fileCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.files)
}
