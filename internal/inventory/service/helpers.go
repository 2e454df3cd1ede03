package service

import (
	"time"

	"github.com/stockroom/stockroom-backend/pkg/errors"
)

func parseDate(value string) (*time.Time, error) {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, errors.Validation(map[string]string{"date": "must be formatted as YYYY-MM-DD"})
	}
	return &t, nil
}
