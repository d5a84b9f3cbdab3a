package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"

	"parley/internal/api"
	"parley/internal/auth"
	"parley/internal/models"

	"github.com/stretchr/testify/require"
)

const (
	testAdminAddr = "127.0.0.1:8888"
	testAPIAddr   = ":8887"
)

func TestIntegration(t *testing.T) {
	dbFile := "integration_test.db"
	_ = os.Remove(dbFile)
	defer func() { _ = os.Remove(dbFile) }()

	uploadsDir, err := os.MkdirTemp("", "parley_uploads")
	require.NoError(t, err)
	defer func() { _ = os.RemoveAll(uploadsDir) }()

	_ = os.Setenv("PARLEY_DB", dbFile)
	_ = os.Setenv("ADMIN_ADDR", testAdminAddr)
	_ = os.Setenv("API_ADDR", testAPIAddr)
	_ = os.Setenv("AUTH_SECRET", "very-secure-test-secret")
	_ = os.Setenv("UPLOADS_PATH", uploadsDir)
	defer func() {
		_ = os.Unsetenv("PARLEY_DB")
		_ = os.Unsetenv("ADMIN_ADDR")
		_ = os.Unsetenv("API_ADDR")
		_ = os.Unsetenv("AUTH_SECRET")
		_ = os.Unsetenv("UPLOADS_PATH")
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := run(ctx, ""); err != nil && err != context.Canceled {
			t.Errorf("Server error: %v", err)
		}
	}()

	waitForServer(t, fmt.Sprintf("http://%s/admin/users", testAdminAddr), 20)

	client := &http.Client{}

	// Step 1: Invite two users via the admin API and complete their setup.
	aliceToken := inviteAndRegister(t, client, "alice", "alice-pass")
	bobToken := inviteAndRegister(t, client, "bob", "bob-pass")

	// Step 2: Alice looks up the directory and opens a direct conversation
	// with Bob.
	var users []struct {
		ID       string `json:"id"`
		UserName string `json:"userName"`
		Online   bool   `json:"online"`
	}
	getJSON(t, client, "/api/users", aliceToken, &users)
	require.Len(t, users, 2)

	var bobID string
	for _, u := range users {
		if u.UserName == "bob" {
			bobID = u.ID
		}
	}
	require.NotEmpty(t, bobID)

	var conv models.Conversation
	postJSON(t, client, "/api/conversations/direct", aliceToken,
		map[string]string{"peerId": bobID}, &conv)
	require.Equal(t, models.ConversationDirect, conv.Kind)

	// Opening the same pair again must reuse the conversation.
	var conv2 models.Conversation
	postJSON(t, client, "/api/conversations/direct", aliceToken,
		map[string]string{"peerId": bobID}, &conv2)
	require.Equal(t, conv.ID, conv2.ID)

	// Step 3: Alice sends a message; Bob sees it unread, opens the
	// conversation and the unread count drops to zero.
	var msg models.Message
	postJSON(t, client, "/api/conversations/"+conv.ID+"/messages", aliceToken,
		map[string]string{"content": "hello **bob**"}, &msg)
	require.Equal(t, int64(1), msg.Seq)
	require.False(t, msg.IsRead)

	var summaries []models.ConversationSummary
	getJSON(t, client, "/api/conversations", bobToken, &summaries)
	require.Len(t, summaries, 1)
	require.Equal(t, 1, summaries[0].UnreadCount)
	require.Equal(t, "hello **bob**", summaries[0].LastPreview)

	var opened api.OpenConversationResponse
	getJSON(t, client, "/api/conversations/"+conv.ID, bobToken, &opened)
	require.Len(t, opened.Messages, 1)
	require.Contains(t, opened.Messages[0].Rendered, "<strong>bob</strong>")
	require.Len(t, opened.Participants, 2)

	getJSON(t, client, "/api/conversations", bobToken, &summaries)
	require.Equal(t, 0, summaries[0].UnreadCount)

	// Step 4: Bob reacts, then Alice recalls the message.
	postJSON(t, client, "/api/messages/"+msg.ID+"/reactions", bobToken,
		map[string]string{"emoji": "👍"}, nil)

	getJSON(t, client, "/api/conversations/"+conv.ID, aliceToken, &opened)
	require.Len(t, opened.Reactions[msg.ID], 1)

	req := authedRequest(t, http.MethodDelete, "/api/messages/"+msg.ID, aliceToken, nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	getJSON(t, client, "/api/conversations/"+conv.ID+"?peek=1", aliceToken, &opened)
	require.Empty(t, opened.Messages)

	// Step 5: Upload an attachment and fetch it back. The content type
	// comes from the bytes, not the request.
	pngBase64 := "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="
	pngDecoded, err := base64.StdEncoding.DecodeString(pngBase64)
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "dot.png")
	require.NoError(t, err)
	_, err = fw.Write(pngDecoded)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	reqUp := authedRequest(t, http.MethodPost, "/api/upload", aliceToken, &body)
	reqUp.Header.Set("Content-Type", mw.FormDataContentType())
	respUp, err := client.Do(reqUp)
	require.NoError(t, err)
	defer func() { _ = respUp.Body.Close() }()
	require.Equal(t, http.StatusOK, respUp.StatusCode)

	var att models.Attachment
	require.NoError(t, json.NewDecoder(respUp.Body).Decode(&att))
	require.Equal(t, "image/png", att.MimeType)
	require.NotEmpty(t, att.FileID)

	reqGet := authedRequest(t, http.MethodGet, "/api/attachments/"+att.FileID, bobToken, nil)
	respGet, err := client.Do(reqGet)
	require.NoError(t, err)
	defer func() { _ = respGet.Body.Close() }()
	require.Equal(t, http.StatusOK, respGet.StatusCode)
	require.Equal(t, "image/png", respGet.Header.Get("Content-Type"))

	// Step 6: Presence over REST. Bob goes explicitly offline and the
	// directory reflects it.
	postJSON(t, client, "/api/presence/heartbeat", bobToken,
		map[string]bool{"online": false}, nil)
	getJSON(t, client, "/api/users", aliceToken, &users)
	for _, u := range users {
		if u.ID == bobID {
			require.False(t, u.Online)
		}
	}

	// Step 7: Call history starts empty.
	var calls []models.CallSession
	getJSON(t, client, "/api/conversations/"+conv.ID+"/calls", aliceToken, &calls)
	require.Empty(t, calls)

	// Step 8: Deleting Bob via the admin API revokes his session.
	reqDel, _ := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("http://%s/admin/users/%s", testAdminAddr, bobID), nil)
	respDel, err := client.Do(reqDel)
	require.NoError(t, err)
	_ = respDel.Body.Close()
	require.Equal(t, http.StatusOK, respDel.StatusCode)

	reqRevoked := authedRequest(t, http.MethodGet, "/api/users", bobToken, nil)
	respRevoked, err := client.Do(reqRevoked)
	require.NoError(t, err)
	_ = respRevoked.Body.Close()
	require.Equal(t, http.StatusUnauthorized, respRevoked.StatusCode)
}

// inviteAndRegister runs the full invite flow and returns a session token.
func inviteAndRegister(t *testing.T, client *http.Client, username, password string) string {
	t.Helper()

	reqBody, _ := json.Marshal(api.AddUserRequest{Username: username})
	resp, err := client.Post(fmt.Sprintf("http://%s/admin/users", testAdminAddr),
		"application/json", bytes.NewBuffer(reqBody))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var adminResp api.AddUserResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&adminResp))
	require.True(t, adminResp.Success)

	u, err := url.Parse(adminResp.SetupLink)
	require.NoError(t, err)
	token := u.Query().Get("token")
	require.NotEmpty(t, token)

	regBody, _ := json.Marshal(auth.RegistrationRequest{Token: token, Password: password})
	reqReg := apiRequest(t, http.MethodPost, "/api/register", bytes.NewBuffer(regBody))
	reqReg.Header.Set("Content-Type", "application/json")
	respReg, err := client.Do(reqReg)
	require.NoError(t, err)
	_ = respReg.Body.Close()
	require.Equal(t, http.StatusOK, respReg.StatusCode)

	loginBody, _ := json.Marshal(auth.LoginRequest{Username: username, Password: password})
	reqLogin := apiRequest(t, http.MethodPost, "/api/login", bytes.NewBuffer(loginBody))
	reqLogin.Header.Set("Content-Type", "application/json")
	respLogin, err := client.Do(reqLogin)
	require.NoError(t, err)
	defer func() { _ = respLogin.Body.Close() }()
	require.Equal(t, http.StatusOK, respLogin.StatusCode)

	var loginResp auth.LoginResponse
	require.NoError(t, json.NewDecoder(respLogin.Body).Decode(&loginResp))
	require.True(t, loginResp.Success)
	require.NotEmpty(t, loginResp.Token)
	return loginResp.Token
}

func apiRequest(t *testing.T, method, path string, body *bytes.Buffer) *http.Request {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req, err := http.NewRequest(method, fmt.Sprintf("http://localhost%s%s", testAPIAddr, path), body)
	require.NoError(t, err)
	req.Header.Set("Origin", fmt.Sprintf("http://localhost%s", testAPIAddr))
	return req
}

func authedRequest(t *testing.T, method, path, token string, body *bytes.Buffer) *http.Request {
	t.Helper()
	req := apiRequest(t, method, path, body)
	req.Header.Set("token", token)
	return req
}

func getJSON(t *testing.T, client *http.Client, path, token string, out any) {
	t.Helper()
	req := authedRequest(t, http.MethodGet, path, token, nil)
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func postJSON(t *testing.T, client *http.Client, path, token string, in, out any) {
	t.Helper()
	body, err := json.Marshal(in)
	require.NoError(t, err)
	req := authedRequest(t, http.MethodPost, path, token, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	t.Helper()
	client := &http.Client{Timeout: 500 * time.Millisecond}
	for i := 0; i < retries; i++ {
		resp, err := client.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}
