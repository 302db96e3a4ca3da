package scoring

import (
	"testing"

	"github.com/pavelanni/tutorgate/internal/model"
)

func mcExam() model.Exam {
	return model.Exam{
		ID: "e1",
		Questions: []model.Question{
			{Index: 0, Type: model.MultipleChoice, Options: []string{"A", "B", "C"}, CorrectAnswer: "A", Points: 5},
			{Index: 1, Type: model.MultipleChoice, Options: []string{"A", "B", "C"}, CorrectAnswer: "B", Points: 5},
		},
	}
}

func TestScoreMultipleChoice(t *testing.T) {
	res := Score(mcExam(), map[int]string{0: "A", 1: "C"})
	if res.TotalScore != 5 {
		t.Errorf("TotalScore = %d, want 5", res.TotalScore)
	}
	if res.Percentage != 50 {
		t.Errorf("Percentage = %d, want 50", res.Percentage)
	}
	if res.Grade != model.GradeF {
		t.Errorf("Grade = %s, want F", res.Grade)
	}
	if !res.Complete {
		t.Error("all-MC exam should be complete")
	}
	if len(res.PerQuestion) != 2 || res.PerQuestion[1].Correct == nil || *res.PerQuestion[1].Correct {
		t.Errorf("unexpected per-question results: %+v", res.PerQuestion)
	}
}

func TestScoreIsExactMatch(t *testing.T) {
	exam := model.Exam{Questions: []model.Question{
		{Index: 0, Type: model.TrueFalse, Options: []string{"true", "false"}, CorrectAnswer: "true", Points: 1},
	}}
	for _, ans := range []string{"True", " true", "", "TRUE"} {
		if got := Score(exam, map[int]string{0: ans}).TotalScore; got != 0 {
			t.Errorf("answer %q scored %d, want 0", ans, got)
		}
	}
	if got := Score(exam, map[int]string{0: "true"}).TotalScore; got != 1 {
		t.Errorf("exact answer scored %d, want 1", got)
	}
}

func TestScoreLeavesEssayPending(t *testing.T) {
	exam := mcExam()
	exam.Questions = append(exam.Questions, model.Question{Index: 2, Type: model.Essay, Points: 10})

	res := Score(exam, map[int]string{0: "A", 1: "B", 2: "long text"})
	if res.Complete {
		t.Fatal("exam with essay should not be complete")
	}
	if res.TotalScore != 10 {
		t.Errorf("TotalScore = %d, want 10", res.TotalScore)
	}
	if res.Percentage != 50 {
		t.Errorf("Percentage = %d, want 50", res.Percentage)
	}

	graded := ApplyManual(exam, res.PerQuestion, map[int]int{2: 8})
	if !graded.Complete {
		t.Fatal("manual points should complete grading")
	}
	if graded.TotalScore != 18 || graded.Percentage != 90 || graded.Grade != model.GradeA {
		t.Errorf("after manual grading got %d/%d%%/%s", graded.TotalScore, graded.Percentage, graded.Grade)
	}

	capped := ApplyManual(exam, res.PerQuestion, map[int]int{2: 99})
	if capped.TotalScore != 20 {
		t.Errorf("manual points should be capped, total = %d", capped.TotalScore)
	}
}

func TestLetterGradeBoundaries(t *testing.T) {
	tests := []struct {
		pct  int
		want model.LetterGrade
	}{
		{100, model.GradeA},
		{90, model.GradeA},
		{89, model.GradeB},
		{80, model.GradeB},
		{79, model.GradeC},
		{70, model.GradeC},
		{69, model.GradeD},
		{60, model.GradeD},
		{59, model.GradeF},
		{0, model.GradeF},
	}
	for _, tt := range tests {
		if got := LetterGrade(tt.pct); got != tt.want {
			t.Errorf("LetterGrade(%d) = %s, want %s", tt.pct, got, tt.want)
		}
	}
}

func TestPercentage(t *testing.T) {
	tests := []struct {
		score, total, want int
	}{
		{5, 10, 50},
		{2, 3, 67},
		{1, 3, 33},
		{1, 8, 13},
		{0, 0, 0},
		{7, 7, 100},
	}
	for _, tt := range tests {
		if got := Percentage(tt.score, tt.total); got != tt.want {
			t.Errorf("Percentage(%d, %d) = %d, want %d", tt.score, tt.total, got, tt.want)
		}
	}
}

func TestAggregateExcludesUngraded(t *testing.T) {
	attempts := []model.Attempt{
		{Status: model.AttemptGraded, TotalScore: 8, Percentage: 80},
		{Status: model.AttemptSubmitted, TotalScore: 2, Percentage: 20},
		{Status: model.AttemptSubmitted, TotalScore: 0, Percentage: 0},
		{Status: model.AttemptInProgress},
	}
	stats := Aggregate("e1", attempts)
	if stats.SubmissionCount != 3 {
		t.Errorf("SubmissionCount = %d, want 3", stats.SubmissionCount)
	}
	if stats.CompletedCount != 1 {
		t.Errorf("CompletedCount = %d, want 1", stats.CompletedCount)
	}
	if stats.AveragePercentage != 80 {
		t.Errorf("AveragePercentage = %v, want 80", stats.AveragePercentage)
	}
	if stats.AverageScore != 8 {
		t.Errorf("AverageScore = %v, want 8", stats.AverageScore)
	}
}

func TestAggregateEmpty(t *testing.T) {
	stats := Aggregate("e1", nil)
	if stats.AverageScore != 0 || stats.AveragePercentage != 0 || stats.SubmissionCount != 0 {
		t.Errorf("empty aggregate = %+v", stats)
	}
}
