package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/sjson"

	"github.com/kuitang/flutter-notes-e2e/internal/apiclient"
	"github.com/kuitang/flutter-notes-e2e/internal/config"
	"github.com/kuitang/flutter-notes-e2e/internal/scenario"
)

// DefaultNoteCategory is the category new notes are filed under.
const DefaultNoteCategory = "Home"

type apiSteps struct {
	world  *scenario.Context
	cfg    *config.Config
	client *apiclient.Client
}

// stepAssert collects the first testify failure as an error.
type stepAssert struct {
	err error
}

func (a *stepAssert) Errorf(format string, args ...interface{}) {
	if a.err == nil {
		a.err = fmt.Errorf(format, args...)
	}
}

func expectStatus(label string, want int, res apiclient.Result) error {
	var a stepAssert
	assert.Equal(&a, want, res.Status, "%s: unexpected status, body: %s", label, res.Body.Raw)
	return a.err
}

// uniqueEmail returns an address no earlier run can have registered.
func uniqueEmail() string {
	return fmt.Sprintf("user_%d_%s@test.com", time.Now().UnixMilli(), uuid.NewString()[:8])
}

func (s *apiSteps) setBaseURL(raw string) error {
	if err := checkBaseURL(raw); err != nil {
		return err
	}
	s.world.BaseURL = raw
	return nil
}

func (s *apiSteps) useConfiguredBaseURL() error {
	return s.setBaseURL(s.cfg.APIBaseURL)
}

func checkBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("API base URL must be an absolute http(s) URL, got %q", raw)
	}
	return nil
}

func (s *apiSteps) nothingRecorded() error {
	if !s.world.Empty() {
		return fmt.Errorf("scenario started with leftover state: %d responses, token set=%t, note id=%q",
			len(s.world.APIResponses()), s.world.Token != "", s.world.NoteID)
	}
	return nil
}

func (s *apiSteps) register(ctx context.Context, name, password string) error {
	s.world.Email = uniqueEmail()
	s.world.Password = password
	res, err := s.client.Do(ctx, s.world, "Register user", http.MethodPost, "/users/register", map[string]string{
		"name":     name,
		"email":    s.world.Email,
		"password": password,
	})
	if err != nil {
		return err
	}
	return expectStatus("register", http.StatusCreated, res)
}

func (s *apiSteps) userCreated() error {
	last, ok := s.world.LastResponse()
	if !ok {
		return errors.New("no registration response recorded")
	}
	if last.Status != http.StatusCreated {
		return fmt.Errorf("registration returned %d, want %d", last.Status, http.StatusCreated)
	}
	raw, _ := last.Body.(json.RawMessage)
	var payload struct {
		Data struct {
			Email string `json:"email"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("registration body is not JSON: %w", err)
	}
	var a stepAssert
	assert.Equal(&a, strings.ToLower(s.world.Email), strings.ToLower(payload.Data.Email), "registered email")
	return a.err
}

func (s *apiSteps) loginAs(ctx context.Context, label, password string) error {
	res, err := s.client.Do(ctx, s.world, label, http.MethodPost, "/users/login", map[string]string{
		"email":    s.world.Email,
		"password": password,
	})
	if err != nil {
		return err
	}
	if err := expectStatus(label, http.StatusOK, res); err != nil {
		return err
	}
	token := res.Body.Get("data.token").String()
	if token == "" {
		return fmt.Errorf("%s: response carries no data.token", label)
	}
	s.world.Token = token
	return nil
}

func (s *apiSteps) login(ctx context.Context) error {
	return s.loginAs(ctx, "Login", s.world.Password)
}

func (s *apiSteps) changePassword(ctx context.Context, current, next string) error {
	res, err := s.client.Do(ctx, s.world, "Change password", http.MethodPost, "/users/change-password", map[string]string{
		"currentPassword": current,
		"newPassword":     next,
	})
	if err != nil {
		return err
	}
	if err := expectStatus("change password", http.StatusOK, res); err != nil {
		return err
	}
	s.world.Password = next
	return nil
}

func (s *apiSteps) passwordUpdated() error {
	last, ok := s.world.LastResponse()
	if !ok {
		return errors.New("no password change response recorded")
	}
	if last.Status != http.StatusOK {
		return fmt.Errorf("password change returned %d, want %d", last.Status, http.StatusOK)
	}
	return nil
}

func (s *apiSteps) loginWithNewPassword(ctx context.Context, password string) error {
	return s.loginAs(ctx, "Login with new password", password)
}

func (s *apiSteps) createNote(ctx context.Context, title, description string) error {
	res, err := s.client.Do(ctx, s.world, "Create note", http.MethodPost, "/notes", map[string]string{
		"title":       title,
		"description": description,
		"category":    DefaultNoteCategory,
	})
	if err != nil {
		return err
	}
	if err := expectStatus("create note", http.StatusOK, res); err != nil {
		return err
	}
	data := res.Body.Get("data")
	id := data.Get("id").String()
	if id == "" {
		return errors.New("create note: response carries no data.id")
	}
	s.world.NoteID = id
	s.world.Note = json.RawMessage(data.Raw)
	return nil
}

func (s *apiSteps) requireNote() error {
	if s.world.NoteID == "" {
		return errors.New("no note has been created in this scenario")
	}
	return nil
}

func (s *apiSteps) updateNoteTitle(ctx context.Context, title string) error {
	if err := s.requireNote(); err != nil {
		return err
	}
	payload, err := sjson.SetBytes(s.world.Note, "title", title)
	if err != nil {
		return fmt.Errorf("build update payload: %w", err)
	}
	res, err := s.client.Do(ctx, s.world, "Update note", http.MethodPut, "/notes/"+s.world.NoteID, json.RawMessage(payload))
	if err != nil {
		return err
	}
	if err := expectStatus("update note", http.StatusOK, res); err != nil {
		return err
	}
	if data := res.Body.Get("data"); data.IsObject() {
		s.world.Note = json.RawMessage(data.Raw)
	}
	return nil
}

func (s *apiSteps) noteHasTitle(ctx context.Context, want string) error {
	if err := s.requireNote(); err != nil {
		return err
	}
	res, err := s.client.Do(ctx, s.world, "Fetch note", http.MethodGet, "/notes/"+s.world.NoteID, nil)
	if err != nil {
		return err
	}
	if err := expectStatus("fetch note", http.StatusOK, res); err != nil {
		return err
	}
	var a stepAssert
	assert.Equal(&a, want, res.Body.Get("data.title").String(), "note title")
	return a.err
}

func (s *apiSteps) deleteNote(ctx context.Context) error {
	if err := s.requireNote(); err != nil {
		return err
	}
	res, err := s.client.Do(ctx, s.world, "Delete note", http.MethodDelete, "/notes/"+s.world.NoteID, nil)
	if err != nil {
		return err
	}
	return expectStatus("delete note", http.StatusOK, res)
}

func (s *apiSteps) noteGone(ctx context.Context) error {
	if err := s.requireNote(); err != nil {
		return err
	}
	res, err := s.client.Do(ctx, s.world, "Fetch deleted note", http.MethodGet, "/notes/"+s.world.NoteID, nil)
	if err != nil {
		return err
	}
	return expectStatus("fetch deleted note", http.StatusNotFound, res)
}
