package store

import (
	"context"
)

const findRandomQuestions = `SELECT id, category, text, options, answer FROM questions
WHERE category = $1
ORDER BY random()
LIMIT $2`

type FindRandomQuestionsParams struct {
	Category string
	Limit    int32
}

func (q *Queries) FindRandomQuestions(ctx context.Context, arg FindRandomQuestionsParams) ([]Question, error) {
	rows, err := q.db.Query(ctx, findRandomQuestions, arg.Category, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Question{}
	for rows.Next() {
		var i Question
		if err := rows.Scan(
			&i.ID,
			&i.Category,
			&i.Text,
			&i.Options,
			&i.Answer,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
