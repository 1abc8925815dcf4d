package api

import (
	"fmt"
	"net/url"
	"strings"

	"allocplan/internal/model"
	"allocplan/internal/webhooks"
)

func validateCityInput(in *model.CityInput) error {
	if strings.TrimSpace(in.Name) == "" && in.ID == "" {
		return fmt.Errorf("name or id is required")
	}
	switch in.Classification {
	case "", model.ClassA, model.ClassB, model.ClassC:
	default:
		return fmt.Errorf("invalid classification: %s (allowed: A,B,C)", in.Classification)
	}
	return nil
}

func validateNodeInput(in *model.NodeInput) error {
	if in.CityID == "" {
		return fmt.Errorf("cityId is required")
	}
	return nil
}

func validateSubscription(req *model.SubscriptionRequest) error {
	u, err := url.ParseRequestURI(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events must not be empty")
	}
	for _, e := range req.Events {
		switch e {
		case "*", webhooks.EventPlanGenerated, webhooks.EventPlanDeleted:
		default:
			return fmt.Errorf("unknown event type: %s (allowed: %s,%s,*)", e, webhooks.EventPlanGenerated, webhooks.EventPlanDeleted)
		}
	}
	return nil
}
