package prompt

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/song-pt/TongAI/internal/ai"
	"github.com/song-pt/TongAI/internal/store"
	"github.com/stretchr/testify/require"
)

const mathZhPrefix = "请一步步思考，详细列出计算步骤，并反复验证，确保结果精确。使用与当前年级所学知识匹配的解法解题。要有理解题目，步骤拆解，验证过程，结论表述，最终答案。这五个步骤，如果学生问了与学习无关或者其他科目问题，请拒绝回答，以下是题目："

func TestBuild_SolverMathZhWithLevel(t *testing.T) {
	got := Build(Input{
		Question:   "1+1=?",
		LevelLabel: "七年级",
		Subject:    LegacyDefault(SubjectMath),
		Mode:       ModeSolver,
		Language:   LangZhCN,
	})
	require.Equal(t, mathZhPrefix+"1+1=?"+" 用七年级的方法解答。", got)
}

func TestBuild_NormalModeIsPassthrough(t *testing.T) {
	subjects := []SubjectSource{
		LegacyDefault(SubjectMath),
		LegacyDefault(SubjectEnglish),
		Configured(store.Subject{Code: "physics", PromptPrefix: "PHYS:"}),
	}
	for _, s := range subjects {
		for _, lang := range []Language{LangZhCN, LangZhTW, LangEN} {
			got := Build(Input{
				Question:     "what is x?",
				LevelLabel:   "Grade 3",
				Subject:      s,
				Mode:         ModeNormal,
				CustomPrefix: "ignored",
				Language:     lang,
			})
			require.Equal(t, "what is x?", got)
		}
	}
}

func TestBuild_IsDeterministic(t *testing.T) {
	for _, mode := range []Mode{ModeSolver, ModeNormal} {
		for _, lang := range []Language{LangZhCN, LangZhTW, LangEN} {
			for _, code := range []string{SubjectMath, SubjectChinese, SubjectEnglish, "history"} {
				for _, level := range []string{"", "五年级"} {
					in := Input{Question: "q", LevelLabel: level, Subject: LegacyDefault(code), Mode: mode, Language: lang}
					require.Equal(t, Build(in), Build(in), "mode=%s lang=%s subject=%s", mode, lang, code)
				}
			}
		}
	}
}

func TestBuild_PrefixResolution(t *testing.T) {
	// unknown legacy subject falls back to the math persona
	require.Equal(t,
		DefaultPrefix(LangZhCN, SubjectMath)+"q",
		Build(Input{Question: "q", Subject: LegacyDefault("history"), Mode: ModeSolver, Language: LangZhCN}),
	)

	// configured prefix wins over the built-in one
	configured := Configured(store.Subject{Code: "english", PromptPrefix: "EN:"})
	require.Equal(t, "EN:q", Build(Input{Question: "q", Subject: configured, Mode: ModeSolver, Language: LangZhCN}))

	// configured subject with empty prefix behaves like its legacy default
	empty := Configured(store.Subject{Code: "chinese"})
	require.Equal(t,
		DefaultPrefix(LangZhCN, SubjectChinese)+"q",
		Build(Input{Question: "q", Subject: empty, Mode: ModeSolver, Language: LangZhCN}),
	)

	// explicit custom prefix beats everything
	require.Equal(t, "C:q", Build(Input{Question: "q", Subject: configured, Mode: ModeSolver, CustomPrefix: "C:", Language: LangZhCN}))
}

func TestBuild_GradeSuffixPerLanguage(t *testing.T) {
	cases := []struct {
		lang  Language
		label string
		want  string
	}{
		{LangZhCN, "七年级", " 用七年级的方法解答。"},
		{LangZhTW, "七年級", " 用七年級的方法解答。"},
		{LangEN, "Grade 7", " Solve using methods for Grade 7."},
	}
	for _, tc := range cases {
		got := Build(Input{Question: "q", LevelLabel: tc.label, Subject: LegacyDefault(SubjectMath), Mode: ModeSolver, CustomPrefix: "P:", Language: tc.lang})
		require.Equal(t, "P:q"+tc.want, got)
	}
}

func TestBuild_EmptyQuestionIsPrefixOnly(t *testing.T) {
	got := Build(Input{Subject: LegacyDefault(SubjectMath), Mode: ModeSolver, Language: LangZhCN})
	require.Equal(t, mathZhPrefix, got)
}

func TestParseLanguageAndMode(t *testing.T) {
	require.Equal(t, LangEN, ParseLanguage("en"))
	require.Equal(t, LangZhTW, ParseLanguage("zh-tw"))
	require.Equal(t, LangZhCN, ParseLanguage("fr"))
	require.Equal(t, ModeNormal, ParseMode("normal"))
	require.Equal(t, ModeSolver, ParseMode(""))
}

func TestSolveMessages_ImagePartFirst(t *testing.T) {
	msgs := SolveMessages("solve this", "data:image/png;base64,AAAA")
	require.Len(t, msgs, 2)
	require.Equal(t, ai.RoleSystem, msgs[0].Role)
	require.Equal(t, SystemPrompt, msgs[0].Content)

	b, err := json.Marshal(msgs[1])
	require.NoError(t, err)
	require.JSONEq(t,
		`{"role":"user","content":[{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}},{"type":"text","text":"solve this"}]}`,
		string(b),
	)

	textOnly := SolveMessages("solve this", "")
	b, err = json.Marshal(textOnly[1])
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"user","content":"solve this"}`, string(b))
}

func TestFollowUp_TruncatesToLimit(t *testing.T) {
	var history []ai.Message
	history = append(history, ai.Message{Role: ai.RoleSystem, Content: "old system"})
	for i := 0; i < 12; i++ {
		role := ai.RoleUser
		if i%2 == 1 {
			role = ai.RoleAssistant
		}
		history = append(history, ai.Message{Role: role, Content: fmt.Sprintf("m%d", i)})
	}

	out := FollowUp(history, "next", 5)
	require.Len(t, out, 7)
	require.Equal(t, ai.RoleSystem, out[0].Role)
	require.Equal(t, SystemPrompt, out[0].Content)
	for i := 0; i < 5; i++ {
		require.Equal(t, fmt.Sprintf("m%d", 7+i), out[1+i].Content)
		require.NotEqual(t, ai.RoleSystem, out[1+i].Role)
	}
	require.Equal(t, ai.Message{Role: ai.RoleUser, Content: "next"}, out[6])
}

func TestFollowUp_ShortHistoryAndLimitClamp(t *testing.T) {
	history := []ai.Message{
		{Role: ai.RoleUser, Content: "q"},
		{Role: ai.RoleAssistant, Content: "a"},
	}
	out := FollowUp(history, "more", 5)
	require.Len(t, out, 4)

	require.Equal(t, DefaultContextLimit, ClampContextLimit(0))
	require.Equal(t, MaxContextLimit, ClampContextLimit(100))
	require.Equal(t, 1, ClampContextLimit(1))
}
