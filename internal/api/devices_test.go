package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/nerrad567/devicelink/internal/device"
)

func TestListDevices_Empty(t *testing.T) {
	env := newTestEnv(t)
	w := do(t, env.srv.buildRouter(), http.MethodGet, "/api/v1/devices", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody[map[string]any](t, w)
	if resp["count"] != float64(0) {
		t.Errorf("count = %v, want 0", resp["count"])
	}
	if devices, ok := resp["devices"].([]any); !ok || len(devices) != 0 {
		t.Errorf("devices = %v, want empty array", resp["devices"])
	}
}

func TestCreateAndGetDevice(t *testing.T) {
	env := newTestEnv(t)
	router := env.srv.buildRouter()

	w := do(t, router, http.MethodPost, "/api/v1/devices",
		`{"name":"Boiler","brand":"Acme","type":"thermostat","topic_id":"home/boiler"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201; body: %s", w.Code, w.Body.String())
	}
	created := decodeBody[device.Device](t, w)
	if created.ID == 0 {
		t.Fatal("created device has no id")
	}
	if created.Subscribed {
		t.Error("new device should start unsubscribed")
	}
	if created.Temperature != device.DefaultTemperature {
		t.Errorf("Temperature = %q, want %q", created.Temperature, device.DefaultTemperature)
	}

	w = do(t, router, http.MethodGet, fmt.Sprintf("/api/v1/devices/%d", created.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", w.Code)
	}
	got := decodeBody[device.Device](t, w)
	if got.Name != "Boiler" || got.TopicID != "home/boiler" {
		t.Errorf("got %+v", got)
	}
}

func TestCreateDevice_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"invalid json", `{`, ErrCodeBadRequest},
		{"missing name", `{"topic_id":"a/b"}`, ErrCodeValidation},
		{"bad topic", `{"name":"x","topic_id":"a/#/b"}`, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			w := do(t, env.srv.buildRouter(), http.MethodPost, "/api/v1/devices", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400; body: %s", w.Code, w.Body.String())
			}
			if code := errorCode(t, w); code != tt.wantCode {
				t.Errorf("code = %q, want %q", code, tt.wantCode)
			}
		})
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	env := newTestEnv(t)
	w := do(t, env.srv.buildRouter(), http.MethodGet, "/api/v1/devices/999", "")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if code := errorCode(t, w); code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", code, ErrCodeNotFound)
	}
}

func TestGetDevice_BadID(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"abc", "0", "-3"} {
		w := do(t, env.srv.buildRouter(), http.MethodGet, "/api/v1/devices/"+id, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("id %q: status = %d, want 400", id, w.Code)
		}
	}
}

func TestUpdateDevice(t *testing.T) {
	env := newTestEnv(t)
	d := env.addDevice(t, "Old", "home/a")

	w := do(t, env.srv.buildRouter(), http.MethodPatch, fmt.Sprintf("/api/v1/devices/%d", d.ID), `{"name":"New"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	got := decodeBody[device.Device](t, w)
	if got.Name != "New" {
		t.Errorf("Name = %q, want New", got.Name)
	}
	if got.TopicID != "home/a" {
		t.Errorf("TopicID = %q, want unchanged", got.TopicID)
	}
}

func TestUpdateDevice_Invalid(t *testing.T) {
	env := newTestEnv(t)
	d := env.addDevice(t, "Old", "home/a")
	router := env.srv.buildRouter()

	w := do(t, router, http.MethodPatch, fmt.Sprintf("/api/v1/devices/%d", d.ID), `{"name":""}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("empty name status = %d, want 400", w.Code)
	}

	w = do(t, router, http.MethodPatch, "/api/v1/devices/999", `{"name":"x"}`)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing device status = %d, want 404", w.Code)
	}
}

func TestDeleteDevice(t *testing.T) {
	env := newTestEnv(t)
	d := env.addDevice(t, "Gone", "home/gone")
	router := env.srv.buildRouter()

	w := do(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/devices/%d", d.ID), "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}

	w = do(t, router, http.MethodDelete, fmt.Sprintf("/api/v1/devices/%d", d.ID), "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", w.Code)
	}
}

func TestSubscribeDevice(t *testing.T) {
	env := newTestEnv(t)
	d := env.addDevice(t, "Sensor", "sensors/1")
	router := env.srv.buildRouter()
	path := fmt.Sprintf("/api/v1/devices/%d/subscribe", d.ID)

	w := do(t, router, http.MethodPost, path, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("subscribe while disconnected status = %d, want 409", w.Code)
	}

	do(t, router, http.MethodPost, "/api/v1/session/connect", "")
	w = do(t, router, http.MethodPost, path, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if resp := decodeBody[map[string]any](t, w); resp["subscribed"] != true {
		t.Errorf("subscribed = %v, want true", resp["subscribed"])
	}

	stored, err := env.repo.GetByID(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if !stored.Subscribed {
		t.Error("stored device not marked subscribed")
	}

	status := decodeBody[map[string]any](t, do(t, router, http.MethodGet, "/api/v1/session", ""))
	subs, _ := status["subscriptions"].([]any)
	if len(subs) != 1 || subs[0] != "sensors/1" {
		t.Errorf("subscriptions = %v, want [sensors/1]", status["subscriptions"])
	}
}

func TestSubscribeDevice_Refused(t *testing.T) {
	env := newTestEnv(t)
	d := env.addDevice(t, "Sensor", "sensors/1")
	router := env.srv.buildRouter()
	do(t, router, http.MethodPost, "/api/v1/session/connect", "")
	env.transport.failOn("subscribe")

	w := do(t, router, http.MethodPost, fmt.Sprintf("/api/v1/devices/%d/subscribe", d.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp := decodeBody[map[string]any](t, w); resp["subscribed"] != false {
		t.Errorf("subscribed = %v, want false", resp["subscribed"])
	}
}

func TestUnsubscribeDevice(t *testing.T) {
	env := newTestEnv(t)
	d := env.addDevice(t, "Sensor", "sensors/1")
	router := env.srv.buildRouter()
	do(t, router, http.MethodPost, "/api/v1/session/connect", "")
	do(t, router, http.MethodPost, fmt.Sprintf("/api/v1/devices/%d/subscribe", d.ID), "")

	w := do(t, router, http.MethodPost, fmt.Sprintf("/api/v1/devices/%d/unsubscribe", d.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", w.Code, w.Body.String())
	}
	if resp := decodeBody[map[string]any](t, w); resp["unsubscribed"] != true {
		t.Errorf("unsubscribed = %v, want true", resp["unsubscribed"])
	}

	stored, err := env.repo.GetByID(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.Subscribed {
		t.Error("stored device still subscribed")
	}
}

func TestDeviceHistory(t *testing.T) {
	env := newTestEnv(t)
	d := env.addDevice(t, "Sensor", "sensors/1")
	router := env.srv.buildRouter()
	do(t, router, http.MethodPost, "/api/v1/session/connect", "")
	do(t, router, http.MethodPost, fmt.Sprintf("/api/v1/devices/%d/subscribe", d.ID), "")

	env.transport.deliver("sensors/1", `{"time":"10:00","status":"Online","temperature":"21.5","message":"ok"}`)
	env.transport.deliver("sensors/1", `{"time":"10:01","status":"Online","temperature":"21.7","message":"ok"}`)

	path := fmt.Sprintf("/api/v1/devices/%d/history", d.ID)
	deadline := time.Now().Add(2 * time.Second)
	var resp map[string]any
	for {
		resp = decodeBody[map[string]any](t, do(t, router, http.MethodGet, path, ""))
		if resp["count"] == float64(2) || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if resp["count"] != float64(2) {
		t.Fatalf("count = %v, want 2", resp["count"])
	}
	first := resp["history"].([]any)[0].(map[string]any)
	if first["time"] != "10:01" {
		t.Errorf("newest entry time = %v, want 10:01", first["time"])
	}

	resp = decodeBody[map[string]any](t, do(t, router, http.MethodGet, path+"?limit=1", ""))
	if resp["count"] != float64(1) {
		t.Errorf("limited count = %v, want 1", resp["count"])
	}

	if w := do(t, router, http.MethodGet, path+"?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/api/v1/devices/999/history", ""); w.Code != http.StatusNotFound {
		t.Errorf("missing device status = %d, want 404", w.Code)
	}
}
