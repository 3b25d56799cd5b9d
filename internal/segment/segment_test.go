package segment_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/rehearse/internal/segment"
	"github.com/MrWong99/rehearse/pkg/provider/assess"
	"github.com/MrWong99/rehearse/pkg/provider/assess/mock"
)

func texts(tokens []segment.Token) []string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Text
	}
	return out
}

func TestWhitespace_Segment(t *testing.T) {
	t.Parallel()
	tokens := segment.Whitespace{}.Segment("¡Hola, amigo! ¿Qué tal?")
	want := []segment.Token{
		{Text: "Hola", Offset: 1, Length: 4},
		{Text: "amigo", Offset: 7, Length: 5},
		{Text: "Qué", Offset: 15, Length: 3},
		{Text: "tal", Offset: 19, Length: 3},
	}
	if len(tokens) != len(want) {
		t.Fatalf("tokens: got %v, want %v", tokens, want)
	}
	for i := range want {
		if tokens[i] != want[i] {
			t.Errorf("token %d: got %+v, want %+v", i, tokens[i], want[i])
		}
	}
}

func TestThai_Segment(t *testing.T) {
	t.Parallel()
	dict := segment.ThaiDictionary()
	tests := []struct {
		in   string
		want []string
	}{
		{"สวัสดีครับ", []string{"สวัสดี", "ครับ"}},
		{"ขอบคุณมากค่ะ", []string{"ขอบคุณ", "มาก", "ค่ะ"}},
		{"ห้องน้ำอยู่ที่ไหน", []string{"ห้องน้ำ", "อยู่", "ที่ไหน"}},
		{"ผมชอบกาแฟ 2 แก้ว", []string{"ผม", "ชอบ", "กาแฟ", "2", "แก้ว"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got := texts(segment.Thai{Dict: dict}.Segment(tt.in))
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("Segment(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestThai_UnknownRunStaysTogether(t *testing.T) {
	t.Parallel()
	dict := segment.NewDictionary("ครับ")
	got := segment.Thai{Dict: dict}.Segment("ฬฬฬครับ")
	if len(got) != 2 || got[0].Text != "ฬฬฬ" || got[1].Offset != 3 {
		t.Errorf("got %+v", got)
	}
}

func TestThai_OffsetsIndexOriginal(t *testing.T) {
	t.Parallel()
	ref := "สวัสดีครับ"
	runes := []rune(ref)
	for _, tok := range (segment.Thai{Dict: segment.ThaiDictionary()}).Segment(ref) {
		if got := string(runes[tok.Offset : tok.Offset+tok.Length]); got != tok.Text {
			t.Errorf("token %q maps to %q", tok.Text, got)
		}
	}
}

func TestDictionary_Load(t *testing.T) {
	t.Parallel()
	d := segment.NewDictionary()
	if err := d.Load(strings.NewReader("# comment\n\nหนึ่ง\n  สอง  \n")); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if d.Len() != 2 {
		t.Errorf("Len: got %d, want 2", d.Len())
	}
}

func TestForLanguage(t *testing.T) {
	t.Parallel()
	dict := segment.ThaiDictionary()
	if _, ok := segment.ForLanguage("th-TH", dict).(segment.Thai); !ok {
		t.Error("th-TH should use the Thai segmenter")
	}
	if _, ok := segment.ForLanguage("es-ES", dict).(segment.Whitespace); !ok {
		t.Error("es-ES should use whitespace")
	}
	if got := segment.BaseLanguage("TH-th"); got != "th" {
		t.Errorf("BaseLanguage: got %q", got)
	}
}

func TestRemap(t *testing.T) {
	t.Parallel()
	tokens := segment.Whitespace{}.Segment("Hola, amigo mío.")
	words := []assess.Word{
		{Word: "hola", ErrorType: assess.ErrorNone},
		{Word: "eh", ErrorType: assess.ErrorInsertion},
		{Word: "amigos", ErrorType: assess.ErrorMispronunciation},
		{Word: "MÍO", ErrorType: assess.ErrorNone},
		{Word: "zzz", ErrorType: assess.ErrorNone},
	}
	got := segment.Remap(words, tokens)

	want := []struct {
		word   string
		offset int
	}{
		{"Hola", 0},
		{"eh", -1},
		{"amigo", 6},
		{"mío", 12},
		{"zzz", -1},
	}
	for i, w := range want {
		if got[i].Word != w.word || got[i].Offset != w.offset {
			t.Errorf("word %d: got %q@%d, want %q@%d", i, got[i].Word, got[i].Offset, w.word, w.offset)
		}
	}
	if words[0].Offset != 0 || words[0].Word != "hola" {
		t.Error("Remap mutated its input")
	}
}

func TestAssessor_ThaiRoundTrip(t *testing.T) {
	t.Parallel()
	inner := &mock.Provider{ResultFunc: func(req assess.Request) (*assess.Result, error) {
		var words []assess.Word
		for _, f := range strings.Fields(req.ReferenceText) {
			words = append(words, assess.Word{Word: f, AccuracyScore: 90, ErrorType: assess.ErrorNone})
		}
		return &assess.Result{OverallScore: 90, Words: words}, nil
	}}
	a := segment.NewAssessor(inner, nil)

	res, err := a.Assess(context.Background(), assess.Request{ReferenceText: "ขอบคุณมาก", LanguageCode: "th-TH"})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if got := inner.Calls[0].ReferenceText; got != "ขอบคุณ มาก" {
		t.Errorf("submitted text: got %q", got)
	}
	if len(res.Words) != 2 || res.Words[1].Offset != 6 || res.Words[1].Length != 3 {
		t.Errorf("words: got %+v", res.Words)
	}
}

func TestAssessor_PassesThroughOtherLanguages(t *testing.T) {
	t.Parallel()
	inner := &mock.Provider{Result: &assess.Result{Words: []assess.Word{{Word: "hello"}}}}
	a := segment.NewAssessor(inner, nil)
	res, err := a.Assess(context.Background(), assess.Request{ReferenceText: "Hello!", LanguageCode: "en-US"})
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if inner.Calls[0].ReferenceText != "Hello!" {
		t.Errorf("submitted text changed: %q", inner.Calls[0].ReferenceText)
	}
	if res.Words[0].Word != "Hello" || res.Words[0].Offset != 0 {
		t.Errorf("word: got %+v", res.Words[0])
	}
}

func TestAssessor_PropagatesErrors(t *testing.T) {
	t.Parallel()
	a := segment.NewAssessor(&mock.Provider{Err: assess.ErrUnavailable}, nil)
	if _, err := a.Assess(context.Background(), assess.Request{ReferenceText: "x", LanguageCode: "en"}); !errors.Is(err, assess.ErrUnavailable) {
		t.Errorf("got %v, want ErrUnavailable", err)
	}
}

func TestAssessor_NilResult(t *testing.T) {
	t.Parallel()
	inner := &mock.Provider{ResultFunc: func(assess.Request) (*assess.Result, error) { return nil, nil }}
	a := segment.NewAssessor(inner, nil)
	_, err := a.Assess(context.Background(), assess.Request{ReferenceText: "สวัสดีครับ", LanguageCode: "th-TH"})
	if !errors.Is(err, assess.ErrInvalidResponse) {
		t.Errorf("got %v, want ErrInvalidResponse", err)
	}
}
