package fetcher

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// newClickUpServer serves a root task with two subtasks over the ClickUp
// REST paths.
func newClickUpServer(t *testing.T) *httptest.Server {
	t.Helper()

	tasks := map[string]string{
		"root": `{"id":"root","name":"Root","points":1,"date_created":"1700000000000","subtasks":[
			{"id":"child-1","name":"One","points":2,"date_created":"1700000000000"},
			{"id":"child-2","name":"Two","date_created":"1700000000000"}]}`,
		"child-1": `{"id":"child-1","name":"One","points":2,"date_created":"1700000000000"}`,
		"child-2": `{"id":"child-2","name":"Two","date_created":"1700000000000","subtasks":[]}`,
	}
	history := `{"current_status":{"status":"done","total_time":{"by_minute":5,"since":"1700000000000"}},
		"status_history":[{"status":"in progress","type":"custom","orderindex":5,"total_time":{"by_minute":2880,"since":"1700000000000"}}]}`

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api/v2/task/")
		if id, ok := strings.CutSuffix(path, "/time_in_status"); ok {
			if _, known := tasks[id]; !known {
				http.NotFound(w, r)
				return
			}
			w.Write([]byte(history))
			return
		}
		body, ok := tasks[path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"err":"Task not found","ECODE":"ITEM_013"}`))
			return
		}
		w.Write([]byte(body))
	}))
}
