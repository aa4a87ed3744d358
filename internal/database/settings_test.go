package database

import "testing"

func TestSetSetting_Upserts(t *testing.T) {
	db := openTestDB(t)

	if err := db.SetSetting("log.level", `"debug"`); err != nil {
		t.Fatalf("SetSetting returned error: %v", err)
	}
	if err := db.SetSetting("log.level", `"trace"`); err != nil {
		t.Fatalf("SetSetting returned error: %v", err)
	}

	got, err := db.GetSetting("log.level")
	if err != nil {
		t.Fatalf("GetSetting returned error: %v", err)
	}
	if got != `"trace"` {
		t.Fatalf("expected updated value, got %q", got)
	}
}

func TestGetSetting_MissingKeyIsEmpty(t *testing.T) {
	db := openTestDB(t)

	got, err := db.GetSetting("never.set")
	if err != nil {
		t.Fatalf("GetSetting returned error: %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty value, got %q", got)
	}
}

func TestSetSettingJSON_RoundTrip(t *testing.T) {
	db := openTestDB(t)

	if err := db.SetSettingJSON("notifications.discord.events", []string{"request_failed"}); err != nil {
		t.Fatalf("SetSettingJSON returned error: %v", err)
	}

	var events []string
	if err := db.GetSettingJSON("notifications.discord.events", &events); err != nil {
		t.Fatalf("GetSettingJSON returned error: %v", err)
	}
	if len(events) != 1 || events[0] != "request_failed" {
		t.Fatalf("unexpected events: %v", events)
	}
}

func TestInitializeDefaults_DoesNotOverwrite(t *testing.T) {
	db := openTestDB(t)

	if err := db.SetSettingJSON("workflow.pending_expiry_days", 3); err != nil {
		t.Fatalf("SetSettingJSON returned error: %v", err)
	}
	if err := db.InitializeDefaults(); err != nil {
		t.Fatalf("InitializeDefaults returned error: %v", err)
	}

	got, err := db.GetSetting("workflow.pending_expiry_days")
	if err != nil {
		t.Fatalf("GetSetting returned error: %v", err)
	}
	if got != "3" {
		t.Fatalf("expected stored value to survive, got %q", got)
	}

	// Unset keys received their defaults.
	got, err = db.GetSetting("scripts.python_binary")
	if err != nil {
		t.Fatalf("GetSetting returned error: %v", err)
	}
	if got != `"python3"` {
		t.Fatalf("expected default python binary, got %q", got)
	}
}

func TestDeleteSetting(t *testing.T) {
	db := openTestDB(t)

	if err := db.SetSetting("temp.key", "x"); err != nil {
		t.Fatalf("SetSetting returned error: %v", err)
	}
	if err := db.DeleteSetting("temp.key"); err != nil {
		t.Fatalf("DeleteSetting returned error: %v", err)
	}

	all, err := db.GetAllSettings()
	if err != nil {
		t.Fatalf("GetAllSettings returned error: %v", err)
	}
	if _, ok := all["temp.key"]; ok {
		t.Fatal("expected setting to be deleted")
	}
}
