// Package scene bootstraps the persistent scene graph: the Scene_Descriptor
// singleton plus one CameraConfig per installed camera.
package scene

// CameraConfig describes one installed camera
type CameraConfig struct {
	CameraID      string
	Role          string
	Status        string
	OperationMode string
	ZoomMode      string
	PanRange      []float64
	TiltRange     []float64
	ZoomRange     []float64
	CameraPos     []float64
	Gimbal        map[string]any
	Parameters    map[string]any
}

// Venue is the static scene description for one installation
type Venue struct {
	ID           string
	PitchMarkers map[string][]float64 // landmark name -> [x, y] meters
	Cameras      []CameraConfig
}

// VenueProvider supplies the venue layout. The default is the static
// six-camera pitch; a config-file provider can replace it later.
type VenueProvider interface {
	Venue() Venue
}

// StaticVenue is the built-in six-camera football pitch layout
type StaticVenue struct{}

func (StaticVenue) Venue() Venue {
	return Venue{
		ID:           "ozsports",
		PitchMarkers: pitchMarkers(),
		Cameras:      cameraConfigs(),
	}
}

// pitchMarkers returns FIFA-standard pitch landmark coordinates in meters,
// centered on the center spot
func pitchMarkers() map[string][]float64 {
	return map[string][]float64{
		"center_spot":              {0.0, 0.0},
		"center_circle_radius":     {9.15, 0.0},
		"penalty_spot_home":        {-32.0, 0.0},
		"penalty_spot_away":        {32.0, 0.0},
		"goal_post_home_left":      {-52.5, -3.66},
		"goal_post_home_right":     {-52.5, 3.66},
		"goal_post_away_left":      {52.5, -3.66},
		"goal_post_away_right":     {52.5, 3.66},
		"corner_home_left":         {-52.5, -34.0},
		"corner_home_right":        {-52.5, 34.0},
		"corner_away_left":         {52.5, -34.0},
		"corner_away_right":        {52.5, 34.0},
		"penalty_area_home_left":   {-40.0, -20.16},
		"penalty_area_home_right":  {-40.0, 20.16},
		"penalty_area_away_left":   {40.0, -20.16},
		"penalty_area_away_right":  {40.0, 20.16},
		"six_yard_home_left":       {-46.0, -9.16},
		"six_yard_home_right":      {-46.0, 9.16},
		"six_yard_away_left":       {46.0, -9.16},
		"six_yard_away_right":      {46.0, 9.16},
	}
}

func identityIntrinsics() map[string]any {
	return map[string]any{
		"intrinsic": [][]float64{{800.0, 0.0, 640.0}, {0.0, 800.0, 360.0}, {0.0, 0.0, 1.0}},
	}
}

func camera(id, role, zoomMode string, pos []float64, gimbal map[string]any, rotation [][]float64) CameraConfig {
	params := identityIntrinsics()
	params["rotation"] = rotation
	params["translation"] = pos
	return CameraConfig{
		CameraID:      id,
		Role:          role,
		Status:        "ACTIVE",
		OperationMode: "auto",
		ZoomMode:      zoomMode,
		PanRange:      []float64{-180.0, 180.0},
		TiltRange:     []float64{-45.0, 45.0},
		ZoomRange:     []float64{1.0, 10.0},
		CameraPos:     pos,
		Gimbal:        gimbal,
		Parameters:    params,
	}
}

// cameraConfigs returns the standard six-camera setup: main, center, both
// sidelines, both goals
func cameraConfigs() []CameraConfig {
	identity := [][]float64{{1.0, 0.0, 0.0}, {0.0, 1.0, 0.0}, {0.0, 0.0, 1.0}}
	return []CameraConfig{
		camera("camera1", "main", "wide",
			[]float64{0.0, 0.0, 10.0},
			map[string]any{"pan": 0.0, "tilt": 0.0, "zoom": 1.0},
			identity),
		camera("camera2", "center", "wide",
			[]float64{0.0, 0.0, 15.0},
			map[string]any{"pan": 0.0, "tilt": -10.0, "zoom": 1.5},
			identity),
		camera("camera3", "l_sideline", "wide",
			[]float64{-45.0, 0.0, 12.0},
			map[string]any{"pan": 90.0, "tilt": -5.0, "zoom": 1.0},
			[][]float64{{0.0, 1.0, 0.0}, {-1.0, 0.0, 0.0}, {0.0, 0.0, 1.0}}),
		camera("camera4", "r_sideline", "wide",
			[]float64{45.0, 0.0, 12.0},
			map[string]any{"pan": -90.0, "tilt": -5.0, "zoom": 1.0},
			[][]float64{{0.0, -1.0, 0.0}, {1.0, 0.0, 0.0}, {0.0, 0.0, 1.0}}),
		camera("camera5", "l_goal", "closeup",
			[]float64{-52.5, 0.0, 8.0},
			map[string]any{"pan": 0.0, "tilt": 0.0, "zoom": 2.0},
			identity),
		camera("camera6", "r_goal", "closeup",
			[]float64{52.5, 0.0, 8.0},
			map[string]any{"pan": 180.0, "tilt": 0.0, "zoom": 2.0},
			[][]float64{{-1.0, 0.0, 0.0}, {0.0, -1.0, 0.0}, {0.0, 0.0, 1.0}}),
	}
}
