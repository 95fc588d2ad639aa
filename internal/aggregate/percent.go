// internal/aggregate/percent.go
package aggregate

import (
	"path"

	"repo-insights/internal/model"
)

// RootFolder is the folder key of files at the top of the repository.
const RootFolder = "/"

// Changes maps a file path to the lines (added plus deleted) each author changed in it.
type Changes map[string]map[string]int64

func (c Changes) add(file, login string, lines int64) {
	byAuthor, ok := c[file]
	if !ok {
		byAuthor = make(map[string]int64)
		c[file] = byAuthor
	}
	byAuthor[login] += lines
}

// FileShares turns line counts into per-file percentages. A file nobody
// changed within the filter gets empty shares.
func FileShares(changes Changes) map[string]model.Shares {
	out := make(map[string]model.Shares, len(changes))
	for file, byAuthor := range changes {
		var total int64
		for _, n := range byAuthor {
			total += n
		}
		shares := make(model.Shares, len(byAuthor))
		if total > 0 {
			for login, n := range byAuthor {
				if n > 0 {
					shares[login] = float64(n) / float64(total) * 100
				}
			}
		}
		out[file] = shares
	}
	return out
}

// FolderOf returns the folder a file is aggregated into: its parent directory.
func FolderOf(file string) string {
	dir := path.Dir(file)
	if dir == "." || dir == "/" {
		return RootFolder
	}
	return dir
}

// FolderShares sums the file shares of every folder's direct files per author
// and renormalizes each folder so its shares never exceed 100 in total.
func FolderShares(files map[string]model.Shares) map[string]model.Shares {
	out := make(map[string]model.Shares)
	for file, shares := range files {
		folder := FolderOf(file)
		sum, ok := out[folder]
		if !ok {
			sum = make(model.Shares)
			out[folder] = sum
		}
		for login, pct := range shares {
			sum[login] += pct
		}
	}
	for _, shares := range out {
		Normalize(shares)
	}
	return out
}

// TotalShares sums every folder's shares per author and renormalizes the result.
func TotalShares(folders map[string]model.Shares) model.Shares {
	total := make(model.Shares)
	for _, shares := range folders {
		for login, pct := range shares {
			total[login] += pct
		}
	}
	Normalize(total)
	return total
}

// Normalize scales shares down proportionally when they sum above 100.
// Shares summing to 100 or less are left as they are.
func Normalize(shares model.Shares) {
	var sum float64
	for _, pct := range shares {
		sum += pct
	}
	if sum <= 100 {
		return
	}
	for login, pct := range shares {
		shares[login] = pct / sum * 100
	}
}
