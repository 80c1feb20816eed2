package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/NicolasHaas/gochat/pkg/model"
)

// Media is an attachment handed to SendMessage.
type Media struct {
	FileName string
	MIME     string
	Data     []byte
}

// API is the REST client for the GoChat server.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPI creates a REST client for the given server base URL.
func NewAPI(serverURL string) *API {
	return &API{
		baseURL: strings.TrimSuffix(serverURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Token returns the current session token ("" before login).
func (a *API) Token() string {
	return a.token
}

type apiEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (a *API) do(req *http.Request) (*apiEnvelope, error) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("client: decode response: %w", err)
	}
	if resp.StatusCode >= 400 || env.Status != "success" {
		if env.Message != "" {
			return nil, fmt.Errorf("%s", env.Message)
		}
		return nil, fmt.Errorf("client: server returned %d", resp.StatusCode)
	}
	return &env, nil
}

func (a *API) postJSON(ctx context.Context, path string, body any) (*apiEnvelope, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("client: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Signup registers a new account.
func (a *API) Signup(ctx context.Context, username, password string) error {
	_, err := a.postJSON(ctx, "/signup", credentials{Username: username, Password: password})
	return err
}

// Login authenticates and stores the session token for later calls.
func (a *API) Login(ctx context.Context, username, password string) error {
	env, err := a.postJSON(ctx, "/login", credentials{Username: username, Password: password})
	if err != nil {
		return err
	}
	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Token == "" {
		return fmt.Errorf("client: login response missing token")
	}
	a.token = data.Token
	return nil
}

// Logout invalidates the session token.
func (a *API) Logout(ctx context.Context) error {
	_, err := a.postJSON(ctx, "/logout", struct{}{})
	a.token = ""
	return err
}

// SendMessage posts a message (text, media, or both) and returns the
// stored record with its server-assigned media path and timestamp.
func (a *API) SendMessage(ctx context.Context, recipient, text string, media *Media) (*model.Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("recipient", recipient); err != nil {
		return nil, fmt.Errorf("client: build form: %w", err)
	}
	if err := mw.WriteField("message", text); err != nil {
		return nil, fmt.Errorf("client: build form: %w", err)
	}
	if media != nil {
		if err := mw.WriteField("mediaType", media.MIME); err != nil {
			return nil, fmt.Errorf("client: build form: %w", err)
		}
		fw, err := mw.CreateFormFile("media", media.FileName)
		if err != nil {
			return nil, fmt.Errorf("client: build form: %w", err)
		}
		if _, err := fw.Write(media.Data); err != nil {
			return nil, fmt.Errorf("client: build form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("client: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/send_message", &buf)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	env, err := a.do(req)
	if err != nil {
		return nil, err
	}
	var msg model.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		return nil, fmt.Errorf("client: decode message: %w", err)
	}
	return &msg, nil
}

// GetMessages fetches the full conversation with a recipient, both
// directions, oldest first.
func (a *API) GetMessages(ctx context.Context, recipient string) ([]model.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.baseURL+"/get_messages/"+url.PathEscape(recipient), nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	env, err := a.do(req)
	if err != nil {
		return nil, err
	}
	var msgs []model.Message
	if err := json.Unmarshal(env.Data, &msgs); err != nil {
		return nil, fmt.Errorf("client: decode messages: %w", err)
	}
	return msgs, nil
}

// FetchMedia downloads a stored media file by its durable path
// (e.g. "/media/169..._abc.png").
func (a *API) FetchMedia(ctx context.Context, mediaPath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+mediaPath, nil)
	if err != nil {
		return nil, fmt.Errorf("client: build request: %w", err)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: fetch media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: fetch media: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// MediaURL resolves a durable media path to a full URL.
func (a *API) MediaURL(mediaPath string) string {
	return a.baseURL + mediaPath
}
