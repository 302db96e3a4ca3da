// Package scoring turns submitted answers into points, percentages and letter grades.
package scoring

import (
	"math"

	"github.com/pavelanni/tutorgate/internal/model"
)

// Result is the outcome of scoring one submission.
type Result struct {
	TotalScore  int
	Percentage  int
	Grade       model.LetterGrade
	PerQuestion []model.QuestionResult
	// Complete is false while any short-answer or essay item awaits manual points.
	Complete bool
}

// Score grades answers against the exam. Multiple-choice and true/false items are
// compared by exact string equality with the correct answer; other types are left pending.
func Score(exam model.Exam, answers map[int]string) Result {
	res := Result{Complete: true}
	for _, q := range exam.Questions {
		ans := answers[q.Index]
		qr := model.QuestionResult{Index: q.Index, Answer: ans, Points: q.Points}
		if q.Type.AutoGradable() {
			ok := ans == q.CorrectAnswer
			qr.Correct = &ok
			if ok {
				qr.Awarded = q.Points
			}
		} else {
			qr.Pending = true
			res.Complete = false
		}
		res.TotalScore += qr.Awarded
		res.PerQuestion = append(res.PerQuestion, qr)
	}
	res.Percentage = Percentage(res.TotalScore, exam.TotalPoints())
	res.Grade = LetterGrade(res.Percentage)
	return res
}

// ApplyManual merges tutor-awarded points into a pending result. Points are capped at each
// question's value and negative values are treated as zero. Items not in manual stay pending.
func ApplyManual(exam model.Exam, prior []model.QuestionResult, manual map[int]int) Result {
	res := Result{Complete: true}
	for _, qr := range prior {
		if qr.Pending {
			if pts, ok := manual[qr.Index]; ok {
				qr.Awarded = min(max(pts, 0), qr.Points)
				qr.Pending = false
			} else {
				res.Complete = false
			}
		}
		res.TotalScore += qr.Awarded
		res.PerQuestion = append(res.PerQuestion, qr)
	}
	res.Percentage = Percentage(res.TotalScore, exam.TotalPoints())
	res.Grade = LetterGrade(res.Percentage)
	return res
}

// Percentage is round(score / total * 100), or 0 when total is 0.
func Percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(score) / float64(total) * 100))
}

// LetterGrade maps a percentage onto A-F bands with inclusive lower bounds.
func LetterGrade(pct int) model.LetterGrade {
	switch {
	case pct >= 90:
		return model.GradeA
	case pct >= 80:
		return model.GradeB
	case pct >= 70:
		return model.GradeC
	case pct >= 60:
		return model.GradeD
	default:
		return model.GradeF
	}
}

// Aggregate computes exam statistics. Averages only consider graded attempts and are 0
// when none are graded.
func Aggregate(examID string, attempts []model.Attempt) model.ExamStats {
	stats := model.ExamStats{ExamID: examID}
	var scoreSum, pctSum int
	for _, a := range attempts {
		switch a.Status {
		case model.AttemptSubmitted:
			stats.SubmissionCount++
		case model.AttemptGraded:
			stats.SubmissionCount++
			stats.CompletedCount++
			scoreSum += a.TotalScore
			pctSum += a.Percentage
		case model.AttemptInProgress:
		}
	}
	if stats.CompletedCount > 0 {
		stats.AverageScore = float64(scoreSum) / float64(stats.CompletedCount)
		stats.AveragePercentage = float64(pctSum) / float64(stats.CompletedCount)
	}
	return stats
}
