package archiver

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"

	"fknsrs.biz/p/bilifm/internal/ctxconfig"
	"fknsrs.biz/p/bilifm/models"
)

// SongZipAudio streams a zip of the converted audio for the given songs.
// Songs whose audio has not been converted yet are skipped.
func SongZipAudio(ctx context.Context, wr io.Writer, songs []models.Song) error {
	zw := zip.NewWriter(wr)

	for _, song := range songs {
		if song.AudioConvertedAt == nil {
			continue
		}

		wr, err := zw.Create(fmt.Sprintf("%s - %s.mp3", song.AuthorName, song.Title))
		if err != nil {
			return err
		}

		fd, err := os.Open(ctxconfig.DataFile(ctx, "audio", song.AudioFileName(".mp3")))
		if err != nil {
			return err
		}

		if _, err := io.Copy(wr, fd); err != nil {
			fd.Close()
			return err
		}

		fd.Close()
	}

	if err := zw.Close(); err != nil {
		return err
	}

	return nil
}

// PlaylistZipAudio is SongZipAudio with the playlist name folded into the
// entry names, for downloading a whole playlist at once.
func PlaylistZipAudio(ctx context.Context, wr io.Writer, playlist *models.Playlist, songs []models.Song) error {
	zw := zip.NewWriter(wr)

	for _, song := range songs {
		if song.AudioConvertedAt == nil {
			continue
		}

		wr, err := zw.Create(fmt.Sprintf("%s - %s - %s.mp3", playlist.Name, song.AuthorName, song.Title))
		if err != nil {
			return err
		}

		fd, err := os.Open(ctxconfig.DataFile(ctx, "audio", song.AudioFileName(".mp3")))
		if err != nil {
			return err
		}

		if _, err := io.Copy(wr, fd); err != nil {
			fd.Close()
			return err
		}

		fd.Close()
	}

	if err := zw.Close(); err != nil {
		return err
	}

	return nil
}
