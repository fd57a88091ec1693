package practice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pteprep/livevoice/pkg/audio"
)

func TestParseQuestion_Variants(t *testing.T) {
	tests := []struct {
		payload string
		kind    Kind
	}{
		{`{"id":"ra-1","type":"read_aloud","text":"The quick brown fox."}`, ReadAloud},
		{`{"id":"rs-1","type":"repeat_sentence","audio_text":"Return the books by Friday."}`, RepeatSentence},
		{`{"id":"di-1","type":"describe_image","image_url":"https://example.com/chart.png"}`, DescribeImage},
		{`{"id":"rl-1","type":"retell_lecture","lecture_text":"Photosynthesis converts light."}`, RetellLecture},
		{`{"id":"asq-1","type":"answer_short_question","question":"What do bees make?","answers":["honey"]}`, AnswerShortQuestion},
		{`{"id":"mc-1","type":"multiple_choice_multiple","audio_text":"...","prompt":"Pick two","options":["a","b","c"],"correct":["a","c"]}`, MultiSelect},
	}
	for _, tt := range tests {
		q, err := ParseQuestion([]byte(tt.payload))
		if err != nil {
			t.Errorf("%s: %v", tt.kind, err)
			continue
		}
		if q.Kind() != tt.kind {
			t.Errorf("Kind = %s, want %s", q.Kind(), tt.kind)
		}
		if q.QuestionID() == "" {
			t.Errorf("%s: empty id", tt.kind)
		}
	}
}

func TestParseQuestion_TypedAccess(t *testing.T) {
	q, err := ParseQuestion([]byte(`{"id":"ra-2","type":"read_aloud","text":"Hello."}`))
	if err != nil {
		t.Fatalf("ParseQuestion: %v", err)
	}
	ra, ok := q.(*ReadAloudQuestion)
	if !ok {
		t.Fatalf("got %T", q)
	}
	if ra.Text != "Hello." {
		t.Errorf("Text = %q", ra.Text)
	}
	if tm := ra.Timing(); tm.Prep != 35*time.Second || tm.Record != 40*time.Second {
		t.Errorf("Timing = %+v", tm)
	}
}

func TestParseQuestion_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":         `{`,
		"missing type":     `{"id":"x"}`,
		"unknown type":     `{"id":"x","type":"essay"}`,
		"unknown field":    `{"id":"x","type":"read_aloud","text":"hi","colour":"red"}`,
		"empty text":       `{"id":"x","type":"read_aloud","text":"  "}`,
		"no answers":       `{"id":"x","type":"answer_short_question","question":"q?","answers":[]}`,
		"bad correct":      `{"id":"x","type":"multiple_choice_multiple","audio_text":"a","options":["a","b"],"correct":["z"]}`,
		"duplicate option": `{"id":"x","type":"multiple_choice_multiple","audio_text":"a","options":["a","a"],"correct":["a"]}`,
		"wrong field type": `{"id":"x","type":"read_aloud","text":42}`,
		"missing field":    `{"id":"x","type":"describe_image"}`,
		"blank id":         `{"id":" ","type":"read_aloud","text":"hi"}`,
		"one option":       `{"id":"x","type":"multiple_choice_multiple","audio_text":"a","options":["a"],"correct":["a"]}`,
		"blank answer":     `{"id":"x","type":"answer_short_question","question":"q?","answers":[""]}`,
		"not an object":    `[1,2]`,
	}
	for name, payload := range tests {
		if _, err := ParseQuestion([]byte(payload)); !errors.Is(err, ErrInvalidQuestion) {
			t.Errorf("%s: expected ErrInvalidQuestion, got %v", name, err)
		}
	}
}

func TestParseQuestion_OptionalFields(t *testing.T) {
	q, err := ParseQuestion([]byte(`{"id":"di-2","type":"describe_image","image_url":"u","description":"bar chart"}`))
	if err != nil {
		t.Fatalf("ParseQuestion: %v", err)
	}
	if di := q.(*DescribeImageQuestion); di.Description != "bar chart" {
		t.Errorf("Description = %q", di.Description)
	}
	if _, err := ParseQuestion([]byte(`{"id":"di-3","type":"describe_image","image_url":"u"}`)); err != nil {
		t.Errorf("description should be optional: %v", err)
	}
}

func TestScoreUsesParsedQuestion(t *testing.T) {
	q, err := ParseQuestion([]byte(`{"id":"mc-2","type":"multiple_choice_multiple","audio_text":"a","options":["a","b","c"],"correct":["a","b"]}`))
	if err != nil {
		t.Fatalf("ParseQuestion: %v", err)
	}
	if got := q.(*MultiSelectQuestion).Score([]string{"a", "c"}); got != 0 {
		t.Errorf("Score = %d, want 0", got)
	}
}

func TestParseQuestions(t *testing.T) {
	qs, err := ParseQuestions([]byte(`[
		{"id":"1","type":"read_aloud","text":"a"},
		{"id":"2","type":"repeat_sentence","audio_text":"b"}
	]`))
	if err != nil {
		t.Fatalf("ParseQuestions: %v", err)
	}
	if len(qs) != 2 || qs[1].Kind() != RepeatSentence {
		t.Errorf("questions = %+v", qs)
	}

	_, err = ParseQuestions([]byte(`[{"id":"1","type":"read_aloud","text":"a"},{"id":"2","type":"bogus"}]`))
	if !errors.Is(err, ErrInvalidQuestion) {
		t.Errorf("expected batch to fail, got %v", err)
	}
}

func TestScoreMultiSelect(t *testing.T) {
	correct := []string{"a", "c", "d"}
	tests := []struct {
		name   string
		picked []string
		want   int
	}{
		{"all correct", []string{"a", "c", "d"}, 3},
		{"one wrong", []string{"a", "b", "c"}, 1},
		{"floor at zero", []string{"b", "e"}, 0},
		{"wrong cancels right", []string{"a", "b"}, 0},
		{"nothing picked", nil, 0},
		{"duplicate pick", []string{"a", "a"}, 1},
	}
	for _, tt := range tests {
		if got := ScoreMultiSelect(correct, tt.picked); got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
		}
	}

	q := &MultiSelectQuestion{Correct: correct}
	if got := q.Score([]string{"d"}); got != 1 {
		t.Errorf("Score = %d", got)
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
}

func (r *fakeRecorder) StartRecording(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.starts++
	return nil
}

func (r *fakeRecorder) StopRecording() (*audio.Blob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return &audio.Blob{MIMEType: "audio/wav"}, nil
}

func (r *fakeRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.stops
}

func TestDrill_RunsToExpiry(t *testing.T) {
	rec := &fakeRecorder{}
	d := NewDrill(rec, Timing{Prep: 20 * time.Millisecond, Record: 30 * time.Millisecond}, nil)
	d.Tick = 5 * time.Millisecond

	var mu sync.Mutex
	phases := map[Phase]int{}
	d.OnTick = func(p Phase, _ time.Duration) {
		mu.Lock()
		phases[p]++
		mu.Unlock()
	}

	res, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Expired || res.Blob == nil {
		t.Errorf("result = %+v", res)
	}
	if starts, stops := rec.counts(); starts != 1 || stops != 1 {
		t.Errorf("starts=%d stops=%d", starts, stops)
	}
	if d.Phase() != PhaseDone {
		t.Errorf("phase = %v", d.Phase())
	}

	mu.Lock()
	if phases[PhasePrep] == 0 || phases[PhaseRecording] == 0 {
		t.Errorf("ticks = %v", phases)
	}
	total := phases[PhasePrep] + phases[PhaseRecording]
	mu.Unlock()

	// Every timer is gone once Run returns.
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if after := phases[PhasePrep] + phases[PhaseRecording]; after != total {
		t.Errorf("ticks after Run returned: %d -> %d", total, after)
	}
}

func TestDrill_AdvanceSkipsPrepAndFinishes(t *testing.T) {
	rec := &fakeRecorder{}
	d := NewDrill(rec, Timing{Prep: time.Hour, Record: time.Hour}, nil)

	done := make(chan *Result, 1)
	go func() {
		res, _ := d.Run(context.Background())
		done <- res
	}()

	waitPhase(t, d, PhasePrep)
	d.Advance()
	waitPhase(t, d, PhaseRecording)
	d.Advance()

	select {
	case res := <-done:
		if res == nil || res.Expired {
			t.Errorf("result = %+v, want early finish", res)
		}
	case <-time.After(time.Second):
		t.Fatal("drill did not finish")
	}
}

func TestDrill_CancelStopsRecording(t *testing.T) {
	rec := &fakeRecorder{}
	d := NewDrill(rec, Timing{Record: time.Hour}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := d.Run(ctx)
		errc <- err
	}()

	waitPhase(t, d, PhaseRecording)
	cancel()

	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("drill did not stop")
	}
	if _, stops := rec.counts(); stops != 1 {
		t.Errorf("recording stopped %d times, want 1", stops)
	}
	if d.Phase() != PhaseCancelled {
		t.Errorf("phase = %v", d.Phase())
	}
}

func TestDrill_StartFailure(t *testing.T) {
	rec := &fakeRecorder{startErr: audio.ErrPermissionDenied}
	d := NewDrill(rec, Timing{Record: time.Second}, nil)

	_, err := d.Run(context.Background())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
	if _, stops := rec.counts(); stops != 0 {
		t.Errorf("stop called without a recording")
	}
}

func waitPhase(t *testing.T, d *Drill, p Phase) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for d.Phase() != p {
		if time.Now().After(deadline) {
			t.Fatalf("phase = %v, want %v", d.Phase(), p)
		}
		time.Sleep(time.Millisecond)
	}
}
