package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// ScheduleKind — тег варианта расписания.
type ScheduleKind string

const (
	ScheduleStandard      ScheduleKind = "standard"
	ScheduleInterval      ScheduleKind = "interval"
	ScheduleBusinessHours ScheduleKind = "business_hours"
	ScheduleContentBased  ScheduleKind = "content_based"
	ScheduleTrendBased    ScheduleKind = "trend_based"
	ScheduleCron          ScheduleKind = "custom_cron"
)

// Frequency — периодичность стандартного расписания.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Schedule — закрытый набор вариантов расписания. Реализуется только типами этого пакета.
type Schedule interface {
	Kind() ScheduleKind
	Validate() error
	schedule()
}

// StandardSchedule — ежедневная, еженедельная или ежемесячная рассылка в фиксированное время.
// Day — день недели (1 = понедельник … 7 = воскресенье) или день месяца (1…31).
type StandardSchedule struct {
	Frequency Frequency `json:"frequency" yaml:"frequency"`
	Time      string    `json:"time" yaml:"time"`
	Day       int       `json:"day,omitempty" yaml:"day,omitempty"`
}

// MaxIntervalHours — наибольший допустимый интервал (один год).
const MaxIntervalHours = 8760

// IntervalSchedule — запуск каждые IntervalHours часов от StartTime.
// StartTime задаётся как время суток (HH:MM) или как момент в формате RFC3339.
type IntervalSchedule struct {
	IntervalHours int    `json:"interval_hours" yaml:"interval_hours"`
	StartTime     string `json:"start_time" yaml:"start_time"`
}

// BusinessHoursSchedule — запуск в начале рабочего дня в указанные дни недели.
type BusinessHoursSchedule struct {
	StartHour  int   `json:"start_hour" yaml:"start_hour"`
	EndHour    int   `json:"end_hour" yaml:"end_hour"`
	DaysOfWeek []int `json:"days_of_week" yaml:"days_of_week"`
}

// ContentBasedSchedule — запуск по всплеску контента, не чаще MaxFrequencyHours.
type ContentBasedSchedule struct {
	SpikeThreshold    float64 `json:"spike_threshold" yaml:"spike_threshold"`
	MaxFrequencyHours int     `json:"max_frequency_hours" yaml:"max_frequency_hours"`
}

// TrendBasedSchedule — запуск при трендовых ключевых словах.
type TrendBasedSchedule struct {
	Keywords         []string `json:"trend_keywords" yaml:"trend_keywords"`
	Threshold        float64  `json:"trend_threshold" yaml:"trend_threshold"`
	Region           string   `json:"region,omitempty" yaml:"region,omitempty"`
	MinIntervalHours int      `json:"min_interval_hours,omitempty" yaml:"min_interval_hours,omitempty"`
}

// CronSchedule — произвольное cron-выражение из пяти полей.
type CronSchedule struct {
	Expression string `json:"cron_expression" yaml:"cron_expression"`
}

func (StandardSchedule) Kind() ScheduleKind      { return ScheduleStandard }
func (IntervalSchedule) Kind() ScheduleKind      { return ScheduleInterval }
func (BusinessHoursSchedule) Kind() ScheduleKind { return ScheduleBusinessHours }
func (ContentBasedSchedule) Kind() ScheduleKind  { return ScheduleContentBased }
func (TrendBasedSchedule) Kind() ScheduleKind    { return ScheduleTrendBased }
func (CronSchedule) Kind() ScheduleKind          { return ScheduleCron }

func (StandardSchedule) schedule()      {}
func (IntervalSchedule) schedule()      {}
func (BusinessHoursSchedule) schedule() {}
func (ContentBasedSchedule) schedule()  {}
func (TrendBasedSchedule) schedule()    {}
func (CronSchedule) schedule()          {}

// Validate проверяет стандартное расписание.
func (s StandardSchedule) Validate() error {
	if _, _, _, err := ParseClock(s.Time); err != nil {
		return invalidSchedule("время %q: %v", s.Time, err)
	}
	switch s.Frequency {
	case FrequencyDaily:
		return nil
	case FrequencyWeekly:
		if s.Day < 1 || s.Day > 7 {
			return invalidSchedule("день недели должен быть от 1 до 7, получено %d", s.Day)
		}
		return nil
	case FrequencyMonthly:
		if s.Day < 1 || s.Day > 31 {
			return invalidSchedule("день месяца должен быть от 1 до 31, получено %d", s.Day)
		}
		return nil
	}
	return invalidSchedule("неизвестная периодичность %q", s.Frequency)
}

// Validate проверяет интервальное расписание.
func (s IntervalSchedule) Validate() error {
	if s.IntervalHours <= 0 {
		return invalidSchedule("interval_hours должен быть положительным")
	}
	if s.IntervalHours > MaxIntervalHours {
		return invalidSchedule("interval_hours не может превышать %d", MaxIntervalHours)
	}
	if _, _, err := s.Start(); err != nil {
		return err
	}
	return nil
}

// Start разбирает StartTime. Для абсолютного момента возвращает его и absolute = true.
func (s IntervalSchedule) Start() (at time.Time, absolute bool, err error) {
	raw := strings.TrimSpace(s.StartTime)
	if raw == "" {
		return time.Time{}, false, invalidSchedule("start_time обязателен")
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, true, nil
	}
	h, m, sec, err := ParseClock(raw)
	if err != nil {
		return time.Time{}, false, invalidSchedule("start_time %q: %v", raw, err)
	}
	return time.Date(0, 1, 1, h, m, sec, 0, time.UTC), false, nil
}

// Validate проверяет расписание рабочих часов.
func (s BusinessHoursSchedule) Validate() error {
	if s.StartHour < 0 || s.StartHour > 23 {
		return invalidSchedule("start_hour должен быть от 0 до 23")
	}
	if s.EndHour <= s.StartHour || s.EndHour > 24 {
		return invalidSchedule("end_hour должен быть больше start_hour и не больше 24")
	}
	if len(s.DaysOfWeek) == 0 {
		return invalidSchedule("days_of_week не может быть пустым")
	}
	for _, d := range s.DaysOfWeek {
		if d < 1 || d > 7 {
			return invalidSchedule("день недели должен быть от 1 до 7, получено %d", d)
		}
	}
	return nil
}

// Validate проверяет контентное расписание.
func (s ContentBasedSchedule) Validate() error {
	if s.SpikeThreshold <= 0 {
		return invalidSchedule("spike_threshold должен быть положительным")
	}
	if s.MaxFrequencyHours < 0 {
		return invalidSchedule("max_frequency_hours не может быть отрицательным")
	}
	return nil
}

// Validate проверяет трендовое расписание.
func (s TrendBasedSchedule) Validate() error {
	if len(s.CleanKeywords()) == 0 {
		return invalidSchedule("trend_keywords не может быть пустым")
	}
	if s.Threshold < 0 {
		return invalidSchedule("trend_threshold не может быть отрицательным")
	}
	if s.MinIntervalHours < 0 {
		return invalidSchedule("min_interval_hours не может быть отрицательным")
	}
	return nil
}

// CleanKeywords возвращает непустые ключевые слова без повторов.
func (s TrendBasedSchedule) CleanKeywords() []string {
	seen := make(map[string]struct{}, len(s.Keywords))
	out := make([]string, 0, len(s.Keywords))
	for _, kw := range s.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// Validate проверяет cron-выражение.
func (s CronSchedule) Validate() error {
	if _, err := s.Parse(); err != nil {
		return err
	}
	return nil
}

// Parse разбирает выражение. Часовой пояс задаётся только конфигурацией задачи.
func (s CronSchedule) Parse() (cron.Schedule, error) {
	expr := strings.TrimSpace(s.Expression)
	if expr == "" {
		return nil, invalidSchedule("cron_expression обязателен")
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, invalidSchedule("часовой пояс в cron_expression не поддерживается")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, invalidSchedule("cron_expression %q: %v", expr, err)
	}
	return sched, nil
}

// ScheduleConfig — вариант расписания вместе с часовым поясом задачи.
type ScheduleConfig struct {
	Timezone string
	Schedule Schedule
}

// Gated сообщает, что запуск определяется сигналом, а не временем.
func (c ScheduleConfig) Gated() bool {
	switch c.Schedule.(type) {
	case ContentBasedSchedule, TrendBasedSchedule:
		return true
	}
	return false
}

// Location возвращает часовой пояс задачи.
func (c ScheduleConfig) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return nil, fmt.Errorf("%w: пустой часовой пояс", ErrInvalidTimezone)
	}
	// Local зависит от машины, где запущен процесс, и не является именем IANA.
	if strings.EqualFold(strings.TrimSpace(c.Timezone), "local") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, c.Timezone)
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, c.Timezone)
	}
	return loc, nil
}

// Validate проверяет часовой пояс и вариант расписания.
func (c ScheduleConfig) Validate() error {
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.Schedule == nil {
		return invalidSchedule("не задан вариант расписания")
	}
	return c.Schedule.Validate()
}

type scheduleWire struct {
	Type     ScheduleKind    `json:"type"`
	Timezone string          `json:"timezone"`
	Config   json.RawMessage `json:"config"`
}

// MarshalJSON сериализует конфигурацию в вид {"type", "timezone", "config"}.
func (c ScheduleConfig) MarshalJSON() ([]byte, error) {
	if c.Schedule == nil {
		return nil, invalidSchedule("не задан вариант расписания")
	}
	raw, err := json.Marshal(c.Schedule)
	if err != nil {
		return nil, err
	}
	return json.Marshal(scheduleWire{Type: c.Schedule.Kind(), Timezone: c.Timezone, Config: raw})
}

// UnmarshalJSON разбирает конфигурацию, отклоняя неизвестные теги и поля.
func (c *ScheduleConfig) UnmarshalJSON(data []byte) error {
	var wire scheduleWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return invalidSchedule("разбор расписания: %v", err)
	}
	sched, err := decodeVariant(wire.Type, func(v any) error {
		if len(wire.Config) == 0 {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader(wire.Config))
		dec.DisallowUnknownFields()
		return dec.Decode(v)
	})
	if err != nil {
		return err
	}
	c.Timezone = wire.Timezone
	c.Schedule = sched
	return nil
}

// UnmarshalYAML разбирает конфигурацию из описания задач.
func (c *ScheduleConfig) UnmarshalYAML(node *yaml.Node) error {
	var wire struct {
		Type     ScheduleKind `yaml:"type"`
		Timezone string       `yaml:"timezone"`
		Config   yaml.Node    `yaml:"config"`
	}
	if err := node.Decode(&wire); err != nil {
		return invalidSchedule("разбор расписания: %v", err)
	}
	sched, err := decodeVariant(wire.Type, func(v any) error {
		if wire.Config.Kind == 0 {
			return nil
		}
		return wire.Config.Decode(v)
	})
	if err != nil {
		return err
	}
	c.Timezone = wire.Timezone
	c.Schedule = sched
	return nil
}

func decodeVariant(kind ScheduleKind, decode func(v any) error) (Schedule, error) {
	var err error
	switch kind {
	case ScheduleStandard:
		var s StandardSchedule
		err = decode(&s)
		return s, wrapDecode(kind, err)
	case ScheduleInterval:
		var s IntervalSchedule
		err = decode(&s)
		return s, wrapDecode(kind, err)
	case ScheduleBusinessHours:
		var s BusinessHoursSchedule
		err = decode(&s)
		return s, wrapDecode(kind, err)
	case ScheduleContentBased:
		var s ContentBasedSchedule
		err = decode(&s)
		return s, wrapDecode(kind, err)
	case ScheduleTrendBased:
		var s TrendBasedSchedule
		err = decode(&s)
		return s, wrapDecode(kind, err)
	case ScheduleCron:
		var s CronSchedule
		err = decode(&s)
		return s, wrapDecode(kind, err)
	}
	return nil, invalidSchedule("неизвестный тип расписания %q", kind)
}

func wrapDecode(kind ScheduleKind, err error) error {
	if err == nil {
		return nil
	}
	return invalidSchedule("конфигурация %s: %v", kind, err)
}

// ParseClock разбирает время суток в формате HH:MM или HH:MM:SS.
func ParseClock(raw string) (hour, minute, second int, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("ожидается HH:MM")
	}
	values := make([]int, 3)
	limits := []int{23, 59, 59}
	for i, part := range parts {
		v, convErr := strconv.Atoi(part)
		if convErr != nil || v < 0 || v > limits[i] {
			return 0, 0, 0, fmt.Errorf("некорректный компонент %q", part)
		}
		values[i] = v
	}
	return values[0], values[1], values[2], nil
}

func invalidSchedule(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSchedule, fmt.Sprintf(format, args...))
}
