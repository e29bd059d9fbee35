package notify

import (
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// Service posts operational alerts to an incoming-webhook URL. With no URL
// configured every call is a no-op.
type Service struct {
	url    string
	client *resty.Client
}

type message struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func NewService(webhookURL string) *Service {
	return &Service{
		url:    webhookURL,
		client: resty.New().SetTimeout(10 * time.Second),
	}
}

// Alert sends a single alert; failures are logged, never propagated, so an
// unreachable alert channel cannot affect ingestion or refresh paths.
func (s *Service) Alert(title, text string) {
	if s.url == "" {
		return
	}
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message{Title: title, Text: text}).
		Post(s.url)
	if err != nil {
		logrus.WithField("error", err.Error()).Warn("alert delivery failed")
		return
	}
	if resp.StatusCode() >= 400 {
		logrus.WithField("status", resp.StatusCode()).Warn("alert endpoint rejected message")
	}
}
