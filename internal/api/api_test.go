package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/erazemk/boxanizer/internal/auth"
	"github.com/erazemk/boxanizer/internal/db"
	"github.com/erazemk/boxanizer/internal/metrics"
	"github.com/erazemk/boxanizer/internal/model"
	"github.com/erazemk/boxanizer/internal/store"
)

const (
	testJWTSecret = "test-secret"
	testOwner     = "owner"
	testPassword  = "password1"
)

type testServer struct {
	*httptest.Server
	DB    *db.DB
	Token string
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	database := db.NewTestDB(t)

	ctx := context.Background()
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := store.SetOwner(ctx, database, testOwner, hash); err != nil {
		t.Fatalf("SetOwner: %v", err)
	}

	router := NewRouter(Config{DB: database, JWTSecret: testJWTSecret, Metrics: metrics.New()})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	t.Cleanup(router.Sessions.CloseAll)

	ts := &testServer{Server: server, DB: database}
	ts.Token = ts.login(t, testOwner, testPassword)
	return ts
}

func (ts *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	resp, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d", resp.StatusCode)
	}

	var loginResp map[string]string
	json.NewDecoder(resp.Body).Decode(&loginResp)
	token := loginResp["token"]
	if token == "" {
		t.Fatal("empty token from login")
	}
	return token
}

// do sends an authenticated JSON request and decodes the response into out
// when out is non-nil.
func (ts *testServer) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	return ts.doWithToken(t, ts.Token, method, path, body, out)
}

func (ts *testServer) doWithToken(t *testing.T, token, method, path string, body, out any) int {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decoding response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

type boxSessionResponse struct {
	ID      string     `json:"id"`
	Kind    string     `json:"kind"`
	Saved   *model.Box `json:"saved"`
	Notices []struct {
		Message   string `json:"message"`
		Retryable bool   `json:"retryable"`
	} `json:"notices"`
	State struct {
		Loaded    bool      `json:"loaded"`
		Draft     model.Box `json:"draft"`
		Dirty     bool      `json:"dirty"`
		CodeError string    `json:"code_error"`
		NameError bool      `json:"name_error"`
		Status    string    `json:"status"`
		Savable   bool      `json:"savable"`
	} `json:"state"`
}

func TestLoginEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"wrong password", testOwner, "wrong"},
		{"wrong username", "someone", testPassword},
	}
	for _, tt := range tests {
		body, _ := json.Marshal(map[string]string{"username": tt.username, "password": tt.password})
		resp, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", tt.name, resp.StatusCode)
		}
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := http.Get(ts.URL + "/api/boxes")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", resp.StatusCode)
	}

	if code := ts.doWithToken(t, "garbage", http.MethodGet, "/api/boxes", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", code)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	ts := setupTestServer(t)

	if code := ts.do(t, http.MethodPost, "/api/auth/logout", nil, nil); code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", code)
	}
	if code := ts.do(t, http.MethodGet, "/api/boxes", nil, nil); code != http.StatusUnauthorized {
		t.Errorf("expected revoked token to be rejected, got %d", code)
	}
}

func TestChangePassword(t *testing.T) {
	ts := setupTestServer(t)

	code := ts.do(t, http.MethodPut, "/api/auth/password", map[string]string{
		"current_password": "nope",
		"new_password":     "new-password",
	}, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong current password, got %d", code)
	}

	code = ts.do(t, http.MethodPut, "/api/auth/password", map[string]string{
		"current_password": testPassword,
		"new_password":     "short",
	}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("expected 400 for weak password, got %d", code)
	}

	code = ts.do(t, http.MethodPut, "/api/auth/password", map[string]string{
		"current_password": testPassword,
		"new_password":     "new-password",
	}, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	ts.login(t, testOwner, "new-password")
}

func TestBoxSessionCreateFlow(t *testing.T) {
	ts := setupTestServer(t)

	var opened boxSessionResponse
	if code := ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"kind": "box"}, &opened); code != http.StatusCreated {
		t.Fatalf("open: expected 201, got %d", code)
	}
	if opened.ID == "" || opened.State.Draft.ID != model.NewID {
		t.Fatalf("unexpected session %+v", opened)
	}
	sessionPath := "/api/sessions/" + opened.ID

	ts.do(t, http.MethodPut, sessionPath, map[string]any{"code": "ABC123"}, nil)
	if code := ts.do(t, http.MethodPut, sessionPath, map[string]any{"name": "Tools"}, nil); code != http.StatusAccepted {
		t.Fatalf("edit: expected 202, got %d", code)
	}

	var settled boxSessionResponse
	ts.do(t, http.MethodGet, sessionPath+"?wait=1", nil, &settled)
	if settled.State.CodeError != string(model.CodeErrorNone) || settled.State.NameError || !settled.State.Savable {
		t.Fatalf("expected savable draft, got %+v", settled.State)
	}
	if !settled.State.Dirty {
		t.Error("expected dirty draft")
	}

	var saved boxSessionResponse
	if code := ts.do(t, http.MethodPost, sessionPath+"/save", nil, &saved); code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d", code)
	}
	if saved.Saved == nil || saved.Saved.ID <= 0 {
		t.Fatalf("expected saved box with id, got %+v", saved.Saved)
	}
	if saved.State.Dirty {
		t.Error("expected clean state after save")
	}

	var box model.Box
	ts.do(t, http.MethodGet, "/api/boxes/"+strconv.FormatInt(saved.Saved.ID, 10), nil, &box)
	if box.Code != "ABC123" || box.Name != "Tools" {
		t.Errorf("unexpected stored box %+v", box)
	}

	var found []model.Box
	ts.do(t, http.MethodGet, "/api/boxes?q=tool", nil, &found)
	if len(found) != 1 {
		t.Errorf("expected 1 search hit, got %d", len(found))
	}
}

func TestBoxSessionDuplicateCode(t *testing.T) {
	ts := setupTestServer(t)
	store.CreateBox(context.Background(), ts.DB, model.Box{Code: "X", Name: "Existing"})

	var opened boxSessionResponse
	ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"kind": "box"}, &opened)
	sessionPath := "/api/sessions/" + opened.ID
	ts.do(t, http.MethodPut, sessionPath, map[string]any{"code": "X", "name": "Duplicate"}, nil)

	var settled boxSessionResponse
	ts.do(t, http.MethodGet, sessionPath+"?wait=1", nil, &settled)
	if settled.State.CodeError != string(model.CodeErrorAlreadyExists) {
		t.Errorf("expected already_exists, got %q", settled.State.CodeError)
	}

	var rejected boxSessionResponse
	if code := ts.do(t, http.MethodPost, sessionPath+"/save", nil, &rejected); code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", code)
	}
	if rejected.State.Savable {
		t.Error("expected draft to stay unsavable")
	}
}

func TestSessionNotFound(t *testing.T) {
	ts := setupTestServer(t)

	var resp struct {
		Error   string `json:"error"`
		Notices []any  `json:"notices"`
	}
	code := ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"kind": "box", "id": 999}, &resp)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if len(resp.Notices) != 1 {
		t.Errorf("expected 1 notice, got %d", len(resp.Notices))
	}

	if code := ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"kind": "shelf"}, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown kind, got %d", code)
	}
	if code := ts.do(t, http.MethodGet, "/api/sessions/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", code)
	}
}

func TestItemSessionFlow(t *testing.T) {
	ts := setupTestServer(t)

	var opened boxSessionResponse
	ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"kind": "item"}, &opened)
	sessionPath := "/api/sessions/" + opened.ID

	if code := ts.do(t, http.MethodPut, sessionPath, map[string]any{"code": "NOPE"}, nil); code != http.StatusBadRequest {
		t.Errorf("expected 400 for item code, got %d", code)
	}

	ts.do(t, http.MethodPut, sessionPath, map[string]any{"name": "Batteries", "consumable": true}, nil)
	var saved struct {
		Saved model.Item `json:"saved"`
	}
	if code := ts.do(t, http.MethodPost, sessionPath+"/save", nil, &saved); code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d", code)
	}
	if saved.Saved.ID <= 0 || !saved.Saved.Consumable {
		t.Errorf("unexpected saved item %+v", saved.Saved)
	}

	if code := ts.do(t, http.MethodDelete, sessionPath, nil, nil); code != http.StatusOK {
		t.Errorf("close: expected 200, got %d", code)
	}
	if code := ts.do(t, http.MethodGet, sessionPath, nil, nil); code != http.StatusNotFound {
		t.Errorf("expected closed session to be gone, got %d", code)
	}
}

func TestSessionImageUpload(t *testing.T) {
	ts := setupTestServer(t)

	var opened boxSessionResponse
	ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"kind": "box"}, &opened)
	sessionPath := "/api/sessions/" + opened.ID
	ts.do(t, http.MethodPut, sessionPath, map[string]any{"code": "IMG", "name": "Photo box"}, nil)

	img := image.NewRGBA(image.Rect(0, 0, 40, 30))
	for x := 0; x < 40; x++ {
		for y := 0; y < 30; y++ {
			img.Set(x, y, color.RGBA{10, 200, 30, 255})
		}
	}
	var pngData bytes.Buffer
	png.Encode(&pngData, img)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, _ := mw.CreateFormFile("image", "photo.png")
	part.Write(pngData.Bytes())
	mw.Close()

	req, _ := http.NewRequest(http.MethodPut, ts.URL+sessionPath+"/image", &body)
	req.Header.Set("Authorization", "Bearer "+ts.Token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("image upload: expected 202, got %d", resp.StatusCode)
	}

	var saved boxSessionResponse
	if code := ts.do(t, http.MethodPost, sessionPath+"/save", nil, &saved); code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d", code)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/api/boxes/"+strconv.FormatInt(saved.Saved.ID, 10)+"/image", nil)
	req.Header.Set("Authorization", "Bearer "+ts.Token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get image: expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", ct)
	}
}

func TestBoxContentsEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()

	box, _ := store.CreateBox(ctx, ts.DB, model.Box{Code: "B", Name: "Box"})
	kept, _ := store.CreateItem(ctx, ts.DB, model.Item{Name: "Kept"})
	taken, _ := store.CreateItem(ctx, ts.DB, model.Item{Name: "Taken"})
	store.CreateItem(ctx, ts.DB, model.Item{Name: "Loose"})

	boxPath := "/api/boxes/" + strconv.FormatInt(box.ID, 10) + "/items"
	for _, id := range []int64{kept.ID, taken.ID} {
		if code := ts.do(t, http.MethodPost, boxPath, map[string]any{"item_id": id}, nil); code != http.StatusCreated {
			t.Fatalf("place %d: expected 201, got %d", id, code)
		}
	}
	if code := ts.do(t, http.MethodDelete, boxPath+"/"+strconv.FormatInt(taken.ID, 10), nil, nil); code != http.StatusOK {
		t.Fatalf("remove: expected 200, got %d", code)
	}
	if code := ts.do(t, http.MethodDelete, boxPath+"/"+strconv.FormatInt(taken.ID, 10), nil, nil); code != http.StatusNotFound {
		t.Errorf("second remove: expected 404, got %d", code)
	}
	if code := ts.do(t, http.MethodPost, boxPath, map[string]any{"item_id": 9999}, nil); code != http.StatusNotFound {
		t.Errorf("place unknown item: expected 404, got %d", code)
	}

	var contents model.BoxContents
	ts.do(t, http.MethodGet, boxPath, nil, &contents)
	if len(contents.InBox) != 1 || contents.InBox[0].Name != "Kept" {
		t.Errorf("unexpected in-box items %+v", contents.InBox)
	}
	if len(contents.Removed) != 1 || contents.Removed[0].Name != "Taken" {
		t.Errorf("unexpected removed items %+v", contents.Removed)
	}
	if len(contents.Remaining) != 1 || contents.Remaining[0].Name != "Loose" {
		t.Errorf("unexpected remaining items %+v", contents.Remaining)
	}

	var item struct {
		Placement *model.Placement `json:"placement"`
	}
	ts.do(t, http.MethodGet, "/api/items/"+strconv.FormatInt(kept.ID, 10), nil, &item)
	if item.Placement == nil || item.Placement.BoxID != box.ID {
		t.Errorf("expected item placement in box %d, got %+v", box.ID, item.Placement)
	}
}

func TestDeleteEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()

	box, _ := store.CreateBox(ctx, ts.DB, model.Box{Code: "D", Name: "Doomed"})
	item, _ := store.CreateItem(ctx, ts.DB, model.Item{Name: "Doomed item"})

	boxPath := "/api/boxes/" + strconv.FormatInt(box.ID, 10)
	itemPath := "/api/items/" + strconv.FormatInt(item.ID, 10)

	for _, path := range []string{boxPath, itemPath} {
		if code := ts.do(t, http.MethodDelete, path, nil, nil); code != http.StatusOK {
			t.Errorf("DELETE %s: expected 200, got %d", path, code)
		}
		if code := ts.do(t, http.MethodGet, path, nil, nil); code != http.StatusNotFound {
			t.Errorf("GET %s after delete: expected 404, got %d", path, code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)

	var opened boxSessionResponse
	ts.do(t, http.MethodPost, "/api/sessions", map[string]any{"kind": "item"}, &opened)
	ts.do(t, http.MethodPut, "/api/sessions/"+opened.ID, map[string]any{"name": "Tape"}, nil)
	ts.do(t, http.MethodPost, "/api/sessions/"+opened.ID+"/save", nil, nil)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`boxanizer_saves_total{kind="item",outcome="ok"} 1`,
		`boxanizer_open_sessions 1`,
		`pattern="POST /api/sessions"`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}
