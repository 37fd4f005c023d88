package rowclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"github.com/JonMunkholm/csvview/internal/view"
)

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	MobileNumber string `json:"mobile_number,omitempty"`
}

// LoginResult is a successful login: an opaque bearer token and the user it
// belongs to.
type LoginResult struct {
	Token    string
	Username string
	Email    string
}

type loginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
	User    struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	} `json:"user"`
}

// UploadResult reports what an upload replaced the dataset with.
type UploadResult struct {
	Message string `json:"message"`
	Rows    int64  `json:"rows"`
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, in RegisterRequest) error {
	resp, err := c.postJSON(ctx, "register", "/register", in)
	if err != nil {
		var te *view.TransportError
		if errors.As(err, &te) && te.Status == http.StatusConflict {
			return ErrUserExists
		}
		return err
	}
	resp.Body.Close()
	return nil
}

// Login exchanges a username and password for a bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	body := map[string]string{"username": username, "password": password}

	resp, err := c.postJSON(ctx, "login", "/login", body)
	if err != nil {
		if errors.Is(err, view.ErrUnauthorized) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	defer resp.Body.Close()

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &view.TransportError{Op: "login", Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.Token == "" {
		return nil, &view.TransportError{Op: "login", Status: resp.StatusCode, Err: errors.New("response carried no token")}
	}

	return &LoginResult{Token: out.Token, Username: out.User.Username, Email: out.User.Email}, nil
}

// Logout revokes the session's token on the service.
func (c *Client) Logout(ctx context.Context, sess view.Session) error {
	if sess == nil || sess.Credential() == "" {
		return view.ErrNoSession
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/logout", nil), nil)
	if err != nil {
		return &view.TransportError{Op: "logout", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+sess.Credential())

	resp, err := c.do(c.http, "logout", req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Upload replaces the session user's dataset with the CSV read from r.
func (c *Client) Upload(ctx context.Context, sess view.Session, filename string, r io.Reader) (*UploadResult, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(filename))
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := c.newUserRequest(ctx, http.MethodPost, sess, "/upload-csv", nil, pr)
	if err != nil {
		pr.Close()
		return nil, &view.TransportError{Op: "upload", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(c.http, "upload", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &view.TransportError{Op: "upload", Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, op, path string, in any) (*http.Response, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path, nil), bytes.NewReader(data))
	if err != nil {
		return nil, &view.TransportError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(c.http, op, req)
}
