package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"autovolt-cloud/internal/auth"
)

// simDevice mimics one classroom switchboard: a monotonic energy
// counter, a set of relays, and the occasional dropped heartbeat.
type simDevice struct {
	id        string
	name      string
	classroom string
	metered   bool
	energyWh  float64
	switches  map[string]bool
}

type simulator struct {
	baseURL    string
	secret     []byte
	client     *http.Client
	devices    []*simDevice
	ratedW     float64
	toggleRate float64
	dropRate   float64

	posts     int64
	accepted  int64
	discarded int64
	failures  int64
}

func main() {
	baseURL := getenvDefault("BASE_URL", "http://localhost:8080")
	secret := getenvDefault("INGEST_HMAC_SECRET", "")
	classroomCount := getenvIntDefault("CLASSROOM_COUNT", 2)
	devicesPerClassroom := getenvIntDefault("DEVICES_PER_CLASSROOM", 2)
	switchCount := getenvIntDefault("SWITCHES_PER_DEVICE", 4)
	interval := getenvDurationDefault("SIM_INTERVAL", 30*time.Second)
	duration := getenvDurationDefault("SIM_DURATION", 0)
	ratedW := getenvFloatDefault("RATED_POWER_W", 40)
	toggleRate := getenvFloatDefault("SIM_TOGGLE_RATE", 0.1)
	dropRate := getenvFloatDefault("SIM_DROP_RATE", 0)
	meterlessRate := getenvFloatDefault("SIM_METERLESS_RATE", 0.25)

	rand.Seed(time.Now().UnixNano())

	sim := &simulator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		secret:     []byte(secret),
		client:     &http.Client{Timeout: 10 * time.Second},
		ratedW:     ratedW,
		toggleRate: toggleRate,
		dropRate:   dropRate,
	}
	sim.devices = buildDevices(classroomCount, devicesPerClassroom, switchCount, meterlessRate)

	log.Printf("device simulator: %d devices -> %s every %s", len(sim.devices), sim.baseURL, interval)
	if secret == "" {
		log.Printf("device simulator: no INGEST_HMAC_SECRET, uploads are unsigned")
	}

	deadline := time.Time{}
	if duration > 0 {
		deadline = time.Now().Add(duration)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	sim.tick(interval)
	for now := range ticker.C {
		if !deadline.IsZero() && now.After(deadline) {
			break
		}
		sim.tick(interval)
	}

	log.Printf("device simulator done: posts=%d accepted=%d discarded=%d failures=%d",
		sim.posts, sim.accepted, sim.discarded, sim.failures)
}

func buildDevices(classrooms, perClassroom, switches int, meterlessRate float64) []*simDevice {
	var devices []*simDevice
	for c := 0; c < classrooms; c++ {
		classroom := fmt.Sprintf("%d%c", 6+c/26, 'A'+c%26)
		for n := 1; n <= perClassroom; n++ {
			dev := &simDevice{
				id:        fmt.Sprintf("dev-%s-%02d", strings.ToLower(classroom), n),
				name:      fmt.Sprintf("%s board %d", classroom, n),
				classroom: classroom,
				metered:   rand.Float64() >= meterlessRate,
				switches:  make(map[string]bool),
			}
			for s := 1; s <= switches; s++ {
				dev.switches[fmt.Sprintf("sw%d", s)] = s == 1
			}
			devices = append(devices, dev)
		}
	}
	return devices
}

type reading struct {
	DeviceID    string          `json:"device_id"`
	LogicalName string          `json:"logical_name"`
	Classroom   string          `json:"classroom"`
	TS          int64           `json:"ts"`
	Status      string          `json:"status"`
	EnergyWh    *float64        `json:"energy_wh,omitempty"`
	PowerW      *float64        `json:"power_w,omitempty"`
	Switches    map[string]bool `json:"switches"`
}

func (s *simulator) tick(interval time.Duration) {
	now := time.Now().UTC()
	batch := make([]reading, 0, len(s.devices))
	for _, dev := range s.devices {
		if s.dropRate > 0 && rand.Float64() < s.dropRate {
			continue
		}
		s.advance(dev, interval)
		batch = append(batch, s.reading(dev, now))
	}
	if len(batch) == 0 {
		return
	}
	if err := s.post(batch); err != nil {
		s.failures++
		log.Printf("post error: %v", err)
	}
}

// advance toggles relays at random and accrues the energy counter for
// whatever was on during the elapsed interval.
func (s *simulator) advance(dev *simDevice, interval time.Duration) {
	for id, on := range dev.switches {
		if rand.Float64() < s.toggleRate {
			dev.switches[id] = !on
		}
	}
	if dev.metered {
		dev.energyWh += s.powerW(dev) * interval.Hours()
	}
}

func (s *simulator) powerW(dev *simDevice) float64 {
	var total float64
	for _, on := range dev.switches {
		if on {
			total += s.ratedW
		}
	}
	return total
}

func (s *simulator) reading(dev *simDevice, now time.Time) reading {
	states := make(map[string]bool, len(dev.switches))
	for id, on := range dev.switches {
		states[id] = on
	}
	r := reading{
		DeviceID:    dev.id,
		LogicalName: dev.name,
		Classroom:   dev.classroom,
		TS:          now.UnixMilli(),
		Status:      "online",
		Switches:    states,
	}
	power := s.powerW(dev)
	r.PowerW = &power
	if dev.metered {
		counter := dev.energyWh
		r.EnergyWh = &counter
	}
	return r
}

func (s *simulator) post(batch []reading) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, s.baseURL+"/ingest/telemetry", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(s.secret) > 0 {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set(auth.HeaderIngestTimestamp, timestamp)
		req.Header.Set(auth.HeaderIngestSignature, auth.ComputeIngestSignature(s.secret, timestamp, payload))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	s.posts++
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	var result struct {
		Accepted  int64 `json:"accepted"`
		Discarded int64 `json:"discarded"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	s.accepted += result.Accepted
	s.discarded += result.Discarded
	log.Printf("posted %d readings: accepted=%d discarded=%d", len(batch), result.Accepted, result.Discarded)
	return nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
