package queuenames

const (
	SongCollect         = "song_collect"
	SongRefreshMetadata = "song_refresh_metadata"
	SongDownloadAudio   = "song_download_audio"
	SongConvertAudio    = "song_convert_audio"
)

var Priority = []string{
	SongCollect,
	SongRefreshMetadata,
	SongDownloadAudio,
	SongConvertAudio,
}
