package sde

import (
	"archive/zip"
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"eve-arbitrage/internal/graph"
	"eve-arbitrage/internal/logger"
)

const sdeURL = "https://developers.eveonline.com/static-data/eve-online-static-data-latest-jsonl.zip"

// Load downloads (if needed) and parses the map portion of the SDE into a
// universe graph.
func Load(dataDir string) (*graph.Universe, error) {
	zipPath := filepath.Join(dataDir, "sde.zip")
	extractDir := filepath.Join(dataDir, "sde")

	if _, err := os.Stat(extractDir); os.IsNotExist(err) {
		logger.Info("SDE", "Downloading data...")
		if err := downloadFile(zipPath, sdeURL); err != nil {
			return nil, fmt.Errorf("download SDE: %w", err)
		}
		logger.Info("SDE", "Extracting data...")
		if err := extractZip(zipPath, extractDir); err != nil {
			return nil, fmt.Errorf("extract SDE: %w", err)
		}
	}
	return LoadDir(extractDir)
}

// LoadDir parses an already extracted SDE directory.
func LoadDir(dir string) (*graph.Universe, error) {
	u := graph.NewUniverse()

	logger.Info("SDE", "Loading regions...")
	if err := loadRegions(dir, u); err != nil {
		return nil, fmt.Errorf("load regions: %w", err)
	}
	logger.Info("SDE", "Loading constellations...")
	if err := loadConstellations(dir, u); err != nil {
		return nil, fmt.Errorf("load constellations: %w", err)
	}
	logger.Info("SDE", "Loading solar systems...")
	if err := loadSystems(dir, u); err != nil {
		return nil, fmt.Errorf("load systems: %w", err)
	}
	logger.Info("SDE", "Loading stargates...")
	gates, err := loadStargates(dir, u)
	if err != nil {
		return nil, fmt.Errorf("load stargates: %w", err)
	}

	logger.Section("SDE Statistics")
	logger.Stats("Regions", len(u.RegionNames))
	logger.Stats("Constellations", len(u.ConstellationRegion))
	logger.Stats("Systems", len(u.SystemRegion))
	logger.Stats("Stargates", gates)
	return u, nil
}

func loadRegions(dir string, u *graph.Universe) error {
	return readJSONL(dir, "mapRegions", func(raw json.RawMessage) error {
		var r struct {
			Key  int32             `json:"_key"`
			Name map[string]string `json:"name"`
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		name := r.Name["en"]
		if name == "" || r.Key == 0 {
			return nil
		}
		u.SetRegionName(r.Key, name)
		return nil
	})
}

func loadConstellations(dir string, u *graph.Universe) error {
	return readJSONL(dir, "mapConstellations", func(raw json.RawMessage) error {
		var c struct {
			Key      int32 `json:"_key"`
			RegionID int32 `json:"regionID"`
		}
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		if c.Key == 0 || c.RegionID == 0 {
			return nil
		}
		u.SetConstellationRegion(c.Key, c.RegionID)
		return nil
	})
}

func loadSystems(dir string, u *graph.Universe) error {
	return readJSONL(dir, "mapSolarSystems", func(raw json.RawMessage) error {
		var s struct {
			Key             int32             `json:"_key"`
			Name            map[string]string `json:"name"`
			ConstellationID int32             `json:"constellationID"`
			RegionID        int32             `json:"regionID"`
			Security        float64           `json:"security"`
			SecurityStatus  float64           `json:"securityStatus"` // alternate SDE field name
		}
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		name := s.Name["en"]
		if name == "" {
			return nil
		}
		sec := s.Security
		if sec == 0 && s.SecurityStatus != 0 {
			sec = s.SecurityStatus
		}
		if s.RegionID != 0 {
			u.SetRegion(s.Key, s.RegionID)
		}
		if s.ConstellationID != 0 {
			u.SetConstellation(s.Key, s.ConstellationID)
		}
		if !u.HasSystem(s.Key) {
			return nil // no region, cannot place it
		}
		u.SetSystemName(s.Key, name)
		u.SetSecurity(s.Key, sec)
		return nil
	})
}

func loadStargates(dir string, u *graph.Universe) (int, error) {
	n := 0
	err := readJSONL(dir, "mapStargates", func(raw json.RawMessage) error {
		var g struct {
			SolarSystemID int32 `json:"solarSystemID"`
			Destination   struct {
				SolarSystemID int32 `json:"solarSystemID"`
			} `json:"destination"`
		}
		if err := json.Unmarshal(raw, &g); err != nil {
			return err
		}
		if g.SolarSystemID != 0 && g.Destination.SolarSystemID != 0 {
			u.AddGate(g.SolarSystemID, g.Destination.SolarSystemID)
			n++
		}
		return nil
	})
	return n, err
}

// readJSONL finds and reads a .jsonl file by base name from the extracted SDE directory.
func readJSONL(dir, baseName string, fn func(json.RawMessage) error) error {
	// Search for the file recursively
	var filePath string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		name := strings.TrimSuffix(info.Name(), ".jsonl")
		if !info.IsDir() && strings.EqualFold(name, baseName) {
			filePath = path
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil && err != filepath.SkipAll {
		return err
	}
	if filePath == "" {
		logger.Warn("SDE", fmt.Sprintf("File %s.jsonl not found, skipping", baseName))
		return nil
	}

	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(json.RawMessage(line)); err != nil {
			continue // skip malformed lines
		}
	}
	return scanner.Err()
}

func downloadFile(dst, url string) error {
	os.MkdirAll(filepath.Dir(dst), 0755)
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, resp.Body)
	return err
}

func extractZip(src, dst string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dstAbs, err := filepath.Abs(dst)
	if err != nil {
		return fmt.Errorf("resolve extract dir: %w", err)
	}

	// Only the map tables are needed.
	for _, f := range r.File {
		base := strings.ToLower(filepath.Base(f.Name))
		if !f.FileInfo().IsDir() && !strings.HasPrefix(base, "map") {
			continue
		}
		fpath := filepath.Join(dstAbs, f.Name)

		// Zip slip guard: ensure the resolved path stays within dst
		if rel, err := filepath.Rel(dstAbs, fpath); err != nil || strings.HasPrefix(rel, "..") {
			return fmt.Errorf("illegal zip entry path: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			os.MkdirAll(fpath, 0755)
			continue
		}
		os.MkdirAll(filepath.Dir(fpath), 0755)
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(fpath)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
