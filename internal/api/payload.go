package api

type newSessionRequest struct {
	Screen      *int     `json:"screen"`
	Width       int      `json:"width"`
	Height      int      `json:"height"`
	FrameRate   int      `json:"frame_rate"`
	Bitrate     int      `json:"bitrate"`
	Gamma       *float64 `json:"gamma"`
	Codec       string   `json:"codec"`
	AudioMode   string   `json:"audio_mode"`
	Pacing      string   `json:"pacing"`
	Disposition string   `json:"disposition"`
	VideoName   string   `json:"video_name"`
}

type newSessionResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type endSessionRequest struct {
	Disposition string `json:"disposition"`
	AudioFile1  string `json:"audio_file_1"`
	AudioFile2  string `json:"audio_file_2"`
	MixedAudio  string `json:"mixed_audio"`
}

type endSessionResponse struct {
	Status int    `json:"status"`
	Frames int    `json:"frames"`
	Error  string `json:"error,omitempty"`
}

type statusResponse struct {
	Status int `json:"status"`
}

type sessionResponse struct {
	ID         string  `json:"id"`
	State      string  `json:"state"`
	Frames     int64   `json:"frames"`
	Dropped    int64   `json:"dropped"`
	Waited     int64   `json:"waited"`
	AverageFPS float64 `json:"average_fps"`
}

type libraryRequest struct {
	Path string `json:"path"`
}

type previewRequest struct {
	Offer string `json:"offer"`
}

type previewResponse struct {
	Answer string `json:"answer"`
}

type screenPayload struct {
	Index  int `json:"index"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type screensResponse struct {
	Screens []screenPayload `json:"screens"`
}

type errorResponse struct {
	Error string `json:"error"`
}
