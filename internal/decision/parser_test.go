package decision

import (
	"testing"
)

func TestParseActionsFencedArray(t *testing.T) {
	text := "Here is my decision:\n```json\n[{\"action\":\"long\",\"symbol\":\"BTCUSDT\",\"size\":2000,\"leverage\":10}]\n```\nGood luck."
	actions, err := ParseActions(text)
	if err != nil {
		t.Fatalf("ParseActions failed: %v", err)
	}
	if len(actions) != 1 {
		t.Fatalf("got %d actions", len(actions))
	}
	if actions[0].Action != "LONG" || actions[0].Symbol != "BTCUSDT" || actions[0].Size != 2000 {
		t.Errorf("unexpected action: %+v", actions[0])
	}
}

func TestParseActionsBareArray(t *testing.T) {
	actions, err := ParseActions(`[{"action":"CLOSE","position_id":"p1"},{"action":"HOLD"}]`)
	if err != nil {
		t.Fatalf("ParseActions failed: %v", err)
	}
	if len(actions) != 2 || actions[0].PositionID != "p1" || actions[1].Action != "HOLD" {
		t.Errorf("unexpected actions: %+v", actions)
	}
}

func TestParseActionsSingleObject(t *testing.T) {
	actions, err := ParseActions(`{"action":"ANALYZE","tool":"rsi","symbol":"ETHUSDT","parameters":{"period":14}}`)
	if err != nil {
		t.Fatalf("ParseActions failed: %v", err)
	}
	if len(actions) != 1 || actions[0].Tool != "rsi" || actions[0].Parameters["period"] != 14 {
		t.Errorf("unexpected actions: %+v", actions)
	}
}

func TestParseActionsWrappedList(t *testing.T) {
	actions, err := ParseActions(`{"actions":[{"action":"SHORT","symbol":"SOLUSDT","size":100,"leverage":3}]}`)
	if err != nil {
		t.Fatalf("ParseActions failed: %v", err)
	}
	if len(actions) != 1 || actions[0].Action != "SHORT" {
		t.Errorf("unexpected actions: %+v", actions)
	}
}

func TestParseActionsProseIsHold(t *testing.T) {
	actions, err := ParseActions("The market looks choppy today, I will wait.")
	if err != nil {
		t.Fatalf("ParseActions failed: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("prose should parse as HOLD, got %+v", actions)
	}
}

func TestParseActionsUnknownAction(t *testing.T) {
	if _, err := ParseActions(`[{"action":"YOLO","symbol":"BTCUSDT"}]`); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestParseActionsBrokenJSON(t *testing.T) {
	if _, err := ParseActions("```json\n[{\"action\":\"LONG\",]\n```"); err == nil {
		t.Fatal("expected error for broken JSON")
	}
}
