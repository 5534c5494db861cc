package garmin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const metersPerMile = 1609.344

// Profile is the subset of the Garmin user profile the service relies on.
type Profile struct {
	UserID       int64  `json:"userId"`
	DisplayName  string `json:"displayName"`
	UserName     string `json:"userName"`
	EmailAddress string `json:"emailAddress"`
}

// Profile fetches the authenticated user's personal information.
func (c *Client) Profile(ctx context.Context, cred *Credential) (*Profile, error) {
	body, err := c.ConnectAPI(ctx, cred, "/userprofile-service/userprofile/personal-information", nil)
	if err != nil {
		return nil, err
	}
	p := &Profile{}
	if err := json.Unmarshal(body, p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

// RecentActivities pages through the activity search endpoint until limit
// activities are collected or the results run out.
func (c *Client) RecentActivities(ctx context.Context, cred *Credential, limit, pageSize int) ([]map[string]any, error) {
	var results []map[string]any
	start := 0
	for len(results) < limit {
		want := pageSize
		if rem := limit - len(results); rem < want {
			want = rem
		}
		params := url.Values{
			"start": {strconv.Itoa(start)},
			"limit": {strconv.Itoa(want)},
		}
		body, err := c.ConnectAPI(ctx, cred, "/activitylist-service/activities/search/activities", params)
		if err != nil {
			return nil, err
		}
		var batch []map[string]any
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, fmt.Errorf("decode activities: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		results = append(results, batch...)
		if len(batch) < pageSize {
			break
		}
		start += len(batch)
	}
	return results, nil
}

func (c *Client) dailySummary(ctx context.Context, cred *Credential, displayName, date string) (map[string]any, error) {
	return c.getJSON(ctx, cred,
		"/usersummary-service/usersummary/daily/"+url.PathEscape(displayName),
		url.Values{"calendarDate": {date}})
}

func (c *Client) sleepData(ctx context.Context, cred *Credential, displayName, date string) (map[string]any, error) {
	return c.getJSON(ctx, cred,
		"/wellness-service/wellness/dailySleepData/"+url.PathEscape(displayName),
		url.Values{"date": {date}})
}

func (c *Client) trainingStatus(ctx context.Context, cred *Credential, date string) (map[string]any, error) {
	return c.getJSON(ctx, cred, "/metrics-service/metrics/trainingstatus/aggregated/"+date, nil)
}

func (c *Client) userSettings(ctx context.Context, cred *Credential) (map[string]any, error) {
	return c.getJSON(ctx, cred, "/userprofile-service/userprofile/user-settings", nil)
}

func (c *Client) getJSON(ctx context.Context, cred *Credential, path string, params url.Values) (map[string]any, error) {
	body, err := c.ConnectAPI(ctx, cred, path, params)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return out, nil
}

// FetchAll gathers every section used to build the coach prompt. Each
// section is independent: a failure degrades to an {"error": ...} entry so
// one flaky endpoint never empties the whole answer.
func (c *Client) FetchAll(ctx context.Context, cred *Credential) (map[string]any, error) {
	today := time.Now().Format("2006-01-02")
	yesterday := time.Now().AddDate(0, 0, -1).Format("2006-01-02")

	data := map[string]any{}

	displayName := ""
	if profile, err := c.Profile(ctx, cred); err != nil {
		c.log.WithError(err).Error("garmin profile fetch failed")
		data["profile"] = errEntry(err)
	} else {
		displayName = profile.DisplayName
		if displayName == "" {
			displayName = profile.UserName
		}
		data["profile"] = map[string]any{
			"displayName": displayName,
			"email":       profile.EmailAddress,
		}
	}

	// Cap at 20 activities to stay inside the model's context window.
	if activities, err := c.RecentActivities(ctx, cred, 20, 100); err != nil {
		c.log.WithError(err).Error("garmin activities fetch failed")
		data["recentActivities"] = errEntry(err)
	} else {
		formatted := make([]map[string]any, 0, len(activities))
		for _, a := range activities {
			formatted = append(formatted, FormatActivity(a))
		}
		data["recentActivities"] = formatted
	}

	// The per-user endpoints need the display name in the path; without it
	// they can only 404, so skip them when the profile fetch yielded none.
	if displayName == "" {
		skipped := errEntry(errors.New("skipped: no display name from profile"))
		data["todayStats"] = skipped
		data["lastNightSleep"] = skipped
	} else {
		if summary, err := c.dailySummary(ctx, cred, displayName, today); err != nil {
			c.log.WithError(err).WithField("displayName", displayName).Error("garmin daily summary fetch failed")
			data["todayStats"] = errEntry(err)
		} else {
			data["todayStats"] = summary
		}

		if sleep, err := c.sleepData(ctx, cred, displayName, yesterday); err != nil {
			c.log.WithError(err).WithField("displayName", displayName).Error("garmin sleep fetch failed")
			data["lastNightSleep"] = errEntry(err)
		} else {
			data["lastNightSleep"] = sleep
		}
	}

	if settings, err := c.userSettings(ctx, cred); err != nil {
		c.log.WithError(err).Error("garmin user settings fetch failed")
		data["heartRateZones"] = errEntry(err)
	} else {
		maxHR, restingHR := 185, 60
		if ud, ok := settings["userData"].(map[string]any); ok {
			if v, ok := asInt(ud["maxHeartRate"]); ok {
				maxHR = v
			}
			if v, ok := asInt(ud["restingHeartRate"]); ok {
				restingHR = v
			}
		}
		data["heartRateZones"] = ComputeHRZones(maxHR, restingHR)
	}

	if status, err := c.trainingStatus(ctx, cred, today); err != nil {
		c.log.WithError(err).Error("garmin training status fetch failed")
		data["trainingStatus"] = errEntry(err)
	} else {
		data["trainingStatus"] = status
	}

	data["fetchedAt"] = today
	return data, nil
}

func errEntry(err error) map[string]any {
	return map[string]any{"error": err.Error()}
}

// FormatActivity flattens one raw activity into the fields the prompt
// cares about, converting distance and pace to miles.
func FormatActivity(a map[string]any) map[string]any {
	distM, _ := asFloat(a["distance"])
	durS, _ := asFloat(a["duration"])

	miles := decimal.NewFromFloat(distM).Div(decimal.NewFromFloat(metersPerMile))

	var pace any
	if distM > 0 {
		paceSec := decimal.NewFromFloat(durS).Div(miles)
		pace = paceSec.Div(decimal.NewFromInt(60)).Round(2).InexactFloat64()
	}

	activityType := any(nil)
	if at, ok := a["activityType"].(map[string]any); ok {
		activityType = at["typeKey"]
	}

	return map[string]any{
		"activityId":              a["activityId"],
		"activityName":            a["activityName"],
		"activityType":            activityType,
		"startTimeLocal":          a["startTimeLocal"],
		"distanceMiles":           miles.Round(2).InexactFloat64(),
		"durationFormatted":       FormatDuration(durS),
		"durationSeconds":         durS,
		"averagePaceMinPerMile":   pace,
		"averageHR":               a["averageHR"],
		"maxHR":                   a["maxHR"],
		"calories":                a["calories"],
		"averageSpeed":            a["averageSpeed"],
		"elevationGain":           a["elevationGain"],
		"aerobicTrainingEffect":   a["aerobicTrainingEffect"],
		"anaerobicTrainingEffect": a["anaerobicTrainingEffect"],
		"vo2MaxValue":             a["vO2MaxValue"],
		"avgStrideLength":         a["avgStrideLength"],
		"avgVerticalOscillation":  a["avgVerticalOscillation"],
		"avgGroundContactTime":    a["avgGroundContactTime"],
		"avgRunCadence":           a["avgRunCadence"],
		"trainingStressScore":     a["trainingStressScore"],
		"description":             a["description"],
	}
}

// FormatDuration renders seconds as "1h 23m 45s", dropping empty units.
func FormatDuration(seconds float64) string {
	s := int(seconds)
	h := s / 3600
	m := (s % 3600) / 60
	sec := s % 60

	out := ""
	if h > 0 {
		out += fmt.Sprintf("%dh ", h)
	}
	if m > 0 {
		out += fmt.Sprintf("%dm ", m)
	}
	if sec > 0 || out == "" {
		out += fmt.Sprintf("%ds", sec)
	}
	if out[len(out)-1] == ' ' {
		out = out[:len(out)-1]
	}
	return out
}

// ComputeHRZones derives the classic five-zone model from max and resting
// heart rate.
func ComputeHRZones(maxHR, restingHR int) map[string]any {
	pct := func(f float64) int {
		return int(decimal.NewFromInt(int64(maxHR)).Mul(decimal.NewFromFloat(f)).Round(0).IntPart())
	}
	return map[string]any{
		"zone1Min":         restingHR,
		"zone1Max":         pct(0.6),
		"zone2Min":         pct(0.6),
		"zone2Max":         pct(0.7),
		"zone3Min":         pct(0.7),
		"zone3Max":         pct(0.8),
		"zone4Min":         pct(0.8),
		"zone4Max":         pct(0.9),
		"zone5Min":         pct(0.9),
		"zone5Max":         maxHR,
		"lactateThreshold": pct(0.87),
		"maxHeartRate":     maxHR,
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	f, ok := asFloat(v)
	return int(f), ok
}
