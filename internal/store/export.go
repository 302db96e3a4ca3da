package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pavelanni/tutorgate/internal/model"
	"github.com/pavelanni/tutorgate/internal/scoring"
)

// ExportExam builds an export of every attempt for an exam, with aggregate statistics.
func (s *Store) ExportExam(ctx context.Context, examID string) (model.ExamExport, error) {
	exam, err := s.GetExam(ctx, examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("get exam %s: %w", examID, err)
	}
	attempts, err := s.ListAttemptsForExam(ctx, examID)
	if err != nil {
		return model.ExamExport{}, fmt.Errorf("list attempts: %w", err)
	}

	results := make([]model.StudentResult, 0, len(attempts))
	for _, a := range attempts {
		st, err := s.GetStudent(ctx, a.StudentID)
		if err != nil {
			return model.ExamExport{}, fmt.Errorf("get student %s: %w", a.StudentID, err)
		}
		var displayName string
		if st != nil {
			displayName = strings.TrimSpace(st.FirstName + " " + st.LastName)
		}
		results = append(results, model.StudentResult{
			StudentID:   a.StudentID,
			DisplayName: displayName,
			Status:      a.Status,
			StartedAt:   a.StartedAt,
			SubmittedAt: a.SubmittedAt,
			TimeSpent:   a.TimeSpent,
			TotalScore:  a.TotalScore,
			Percentage:  a.Percentage,
			Grade:       a.Grade,
			Questions:   a.Results,
		})
	}

	return model.ExamExport{
		Exam: model.ExamSummary{
			ID:           exam.ID,
			Title:        exam.Title,
			CourseID:     exam.CourseID,
			Status:       exam.Status,
			Duration:     exam.Duration,
			TotalPoints:  exam.TotalPoints(),
			NumQuestions: len(exam.Questions),
		},
		ExportedAt: time.Now().UTC(),
		Stats:      scoring.Aggregate(exam.ID, attempts),
		Results:    results,
	}, nil
}
